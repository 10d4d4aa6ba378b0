package service

import (
	"context"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

// StatsProvider — доступ к агрегатам и выборкам прогонов для дашборда
type StatsProvider interface {
	GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error)
	ListRuns(ctx context.Context, tenantID string, limit, offset int) ([]*domain.Run, error)
}

type DashboardService struct {
	repo StatsProvider
}

func NewDashboardService(repo StatsProvider) *DashboardService {
	return &DashboardService{repo: repo}
}

func (s *DashboardService) GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error) {
	// здесь можно добавить кэширование в Redis на 1 минуту,
	// чтобы не нагружать Postgres тяжелыми аналитическими запросами.
	return s.repo.GetGlobalStats(ctx)
}

// ListRuns — постраничный список прогонов для обзорного экрана консоли
func (s *DashboardService) ListRuns(ctx context.Context, tenantID string, limit, offset int) ([]*domain.Run, error) {
	return s.repo.ListRuns(ctx, tenantID, limit, offset)
}
