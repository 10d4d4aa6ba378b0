package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/devflow-orchestrator/internal/domain"
	"go.uber.org/zap"
)

// DecisionListener — «живучая» подписка на решения операторов (HITL).
// Console API публикует "run_id:approved" или "run_id:rejected";
// одобрение будит зависший Run, отклонение отменяет его.
// Обрабатывает переподключения; при каждом успешном коннекте
// выполняется ResumeAll — зависшие решения не теряются.
type DecisionListener struct {
	core    *Core
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewDecisionListener(core *Core, rdb *redis.Client, channel string, logger *zap.Logger) *DecisionListener {
	return &DecisionListener{
		core:    core,
		rdb:     rdb,
		channel: channel,
		logger:  logger.Named("decision-listener"),
	}
}

func (l *DecisionListener) Listen(ctx context.Context) {
	for {
		pubsub := l.rdb.Subscribe(ctx, l.channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			l.logger.Error("failed to subscribe", zap.String("chan", l.channel), zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Синхронизация при каждом успешном коннекте: решения, принятые
		// пока подписки не было, подхватываются резюмом
		if err := l.core.ResumeAll(ctx); err != nil {
			l.logger.Error("resume sweep failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				l.handleSignal(ctx, msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}

// handleSignal разбирает формат "run_id:decision"
func (l *DecisionListener) handleSignal(ctx context.Context, payload string) {
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) != 2 {
		l.logger.Error("invalid decision signal format", zap.String("payload", payload))
		return
	}
	runID, decision := parts[0], parts[1]

	switch decision {
	case "approved":
		if _, err := l.core.Advance(ctx, runID); err != nil {
			l.logger.Error("failed to resume approved run",
				zap.String("run_id", runID), zap.Error(err))
		}
	case "rejected":
		if err := l.core.Cancel(ctx, runID, string(domain.ReasonApprovalRejected)); err != nil {
			l.logger.Error("failed to cancel rejected run",
				zap.String("run_id", runID), zap.Error(err))
		}
	default:
		l.logger.Error("unknown decision", zap.String("payload", payload))
	}
}
