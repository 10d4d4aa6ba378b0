package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

// TokenValidator — интерфейс, который должны реализовать и оркестратор, и консоль
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type ctxKey string

const (
	ctxKeyClaims ctxKey = "auth_claims"
	ctxKeyTenant ctxKey = "tenant_context"
)

// ChannelFromHeader определяет канал поступления запроса.
// Клиенты объявляют его заголовком X-Source-Channel, по умолчанию api.
func ChannelFromHeader(r *http.Request) domain.SourceChannel {
	switch domain.SourceChannel(r.Header.Get("X-Source-Channel")) {
	case domain.ChannelCLI:
		return domain.ChannelCLI
	case domain.ChannelWeb:
		return domain.ChannelWeb
	case domain.ChannelWebhook:
		return domain.ChannelWebhook
	default:
		return domain.ChannelAPI
	}
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Собираем контекст тенанта из проверенных claims.
			// Дальше по конвейеру он неизменяем.
			tc := domain.TenantContext{
				TenantID: claims.TenantID,
				Actor: domain.ActorContext{
					Type: claims.Actor,
					ID:   claims.UserID,
				},
				Channel: ChannelFromHeader(r),
			}

			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			ctx = context.WithValue(ctx, ctxKeyTenant, tc)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext достает claims, положенные middleware
func ClaimsFromContext(ctx context.Context) (*domain.CustomClaims, bool) {
	claims, ok := ctx.Value(ctxKeyClaims).(*domain.CustomClaims)
	return claims, ok
}

// TenantFromContext достает контекст тенанта, положенный middleware
func TenantFromContext(ctx context.Context) (domain.TenantContext, bool) {
	tc, ok := ctx.Value(ctxKeyTenant).(domain.TenantContext)
	return tc, ok
}
