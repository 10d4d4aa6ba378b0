package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/devflow-orchestrator/internal/approval"
	"github.com/xela07ax/devflow-orchestrator/internal/domain"
	"github.com/xela07ax/devflow-orchestrator/internal/infra"
)

// ApprovalRepository описывает требования к хранилищу очереди заявок
type ApprovalRepository interface {
	GetApprovalRequestByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	FindApprovalRequests(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error)
	UpdateApprovalRequestStatus(ctx context.Context, id string, status domain.ApprovalStatus, reviewerID, comment string) (string, error)
}

type ApprovalService struct {
	repo     ApprovalRepository
	protocol *approval.Protocol
	rdb      *redis.Client
	logger   *zap.Logger
}

func NewApprovalService(repo ApprovalRepository, protocol *approval.Protocol, rdb *redis.Client, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{
		repo:     repo,
		protocol: protocol,
		rdb:      rdb,
		logger:   logger.Named("approval-service"),
	}
}

func (s *ApprovalService) GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return s.repo.GetApprovalRequestByID(ctx, id)
}

func (s *ApprovalService) GetApprovals(ctx context.Context, status string) ([]*domain.ApprovalRequest, error) {
	// Приводим к верхнему регистру, так как в константах PENDING/APPROVED
	status = strings.ToUpper(status)
	return s.repo.FindApprovalRequests(ctx, domain.ApprovalStatus(status))
}

// DecideApproval фиксирует решение оператора по зависшему прогону.
// Мы передаем reviewerID для обеспечения подотчетности (Accountability).
// При одобрении выписывается ApprovalRecord, привязанный к хэшу дифа
// из заявки: если диф с тех пор изменился, гейт оркестратора всё равно
// не пропустит шаг.
func (s *ApprovalService) DecideApproval(ctx context.Context, approvalID string, approved bool, scope []domain.ApprovalAction, reviewerID, comment string) error {
	// 1. Читаем заявку: нужен patch_hash, под которым открыт вопрос
	req, err := s.repo.GetApprovalRequestByID(ctx, approvalID)
	if err != nil {
		return err
	}

	status := domain.StatusRejected
	if approved {
		status = domain.StatusApproved
	}

	// 2. Атомарно обновляем БД: WHERE status='PENDING' исключает Double Decision
	runID, err := s.repo.UpdateApprovalRequestStatus(ctx, approvalID, status, reviewerID, comment)
	if err != nil {
		s.logger.Error("failed to persist approval decision",
			zap.String("approval_id", approvalID),
			zap.String("reviewer_id", reviewerID),
			zap.Error(err))
		return fmt.Errorf("database update failed: %w", err)
	}

	// 3. Одобрение материализуется в ApprovalRecord
	if approved {
		if len(scope) == 0 {
			scope = []domain.ApprovalAction{domain.ActionCommit}
		}
		sub := domain.ApprovalSubmission{
			RunID:     runID,
			Approver:  reviewerID,
			Scope:     scope,
			PatchHash: req.PatchHash,
			Comment:   comment,
		}
		if _, err := s.protocol.Record(ctx, sub); err != nil {
			return fmt.Errorf("approval record failed: %w", err)
		}
	}

	// 4. Публикуем сигнал "пробуждения" для слушателя оркестратора
	signal := "rejected"
	if approved {
		signal = "approved"
	}
	payload := fmt.Sprintf("%s:%s", runID, signal)
	if err := s.rdb.Publish(ctx, infra.RedisChanApprovalDecisions, payload).Err(); err != nil {
		// Если Redis недоступен, решение подхватится при следующем Advance (Fail-Safe)
		s.logger.Error("decision saved but signal not delivered",
			zap.String("run_id", runID),
			zap.Error(err))
		return fmt.Errorf("redis signal failure: %w", err)
	}

	s.logger.Info("HITL decision processed successfully",
		zap.String("run_id", runID),
		zap.String("reviewer", reviewerID),
		zap.String("result", string(status)))

	return nil
}
