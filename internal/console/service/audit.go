package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/devflow-orchestrator/internal/audit"
)

// AuditLogProvider описывает контракт для чтения следа аудита.
// Используем структуру Event из пакета audit, чтобы сохранить единую модель данных.
type AuditLogProvider interface {
	FetchRunEvents(ctx context.Context, runID string) ([]audit.Event, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// FetchRunTrail возвращает след прогона в порядке записи: по нему
// восстанавливается полная последовательность гейтов и переходов.
func (s *AuditService) FetchRunTrail(ctx context.Context, runID string) ([]audit.Event, error) {
	logs, err := s.repo.FetchRunEvents(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch run trail: %w", err)
	}
	return logs, nil
}
