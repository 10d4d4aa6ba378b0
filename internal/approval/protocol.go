package approval

/*
Пакет approval реализует протокол подтверждения деструктивных изменений.
Связка «апрув — контент» криптографическая: запись содержит хэш точного
дифа, который подписал человек. Верификация пересчитывает хэш текущего
staged-дифа и сравнивает на строгое равенство. Любое расхождение (чаще
всего диф поменялся после выдачи апрува) делает апрув недействительным —
протокол сообщает об этом явно, а не молча одобряет другой контент.
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/devflow-orchestrator/internal/domain"
	"go.uber.org/zap"
)

// RecordStore — контракт хранилища записей апрувов
type RecordStore interface {
	PutApproval(ctx context.Context, rec *domain.ApprovalRecord) error
	// GetApproval возвращает последнюю запись для Run (nil, если нет)
	GetApproval(ctx context.Context, runID string) (*domain.ApprovalRecord, error)
}

// Protocol связывает запись и проверку апрувов с хранилищем
type Protocol struct {
	store  RecordStore
	logger *zap.Logger
}

func NewProtocol(store RecordStore, logger *zap.Logger) *Protocol {
	return &Protocol{store: store, logger: logger.Named("approval")}
}

// Record фиксирует подпись человека/сервиса под конкретным дифом
func (p *Protocol) Record(ctx context.Context, sub domain.ApprovalSubmission) (*domain.ApprovalRecord, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	rec := &domain.ApprovalRecord{
		ID:        uuid.New().String(),
		RunID:     sub.RunID,
		Approver:  sub.Approver,
		Scope:     sub.Scope,
		PatchHash: sub.PatchHash,
		Comment:   sub.Comment,
		GrantedAt: time.Now().UTC(),
	}
	if err := p.store.PutApproval(ctx, rec); err != nil {
		return nil, fmt.Errorf("approval: failed to persist record: %w", err)
	}

	p.logger.Info("approval recorded",
		zap.String("run_id", rec.RunID),
		zap.String("approver", rec.Approver),
		zap.String("patch_hash", rec.PatchHash),
	)
	return rec, nil
}

// Verify проверяет апрув перед деструктивным шагом.
// Возвращает запись только если: (a) она существует, (b) хэши строго равны,
// (c) scope покрывает требуемое действие. Иначе — типизированная ошибка:
// ErrApprovalMissing (Run уходит в WAITING_APPROVAL) либо ErrApprovalInvalid
// (апрув отклонен явно, Run остается ждать).
func (p *Protocol) Verify(ctx context.Context, runID, stagedHash string, action domain.ApprovalAction) (*domain.ApprovalRecord, error) {
	rec, err := p.store.GetApproval(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("approval: lookup failed: %w", err)
	}
	if rec == nil {
		return nil, domain.NewGateError(domain.ErrApprovalMissing,
			domain.ReasonDenyDestructiveNoApproval,
			fmt.Sprintf("no approval on file for run %s", runID))
	}

	if stagedHash == "" || rec.PatchHash != stagedHash {
		p.logger.Warn("approval hash mismatch",
			zap.String("run_id", runID),
			zap.String("approved_hash", rec.PatchHash),
			zap.String("staged_hash", stagedHash),
		)
		return nil, domain.NewGateError(domain.ErrApprovalInvalid,
			domain.ReasonApprovalRejected,
			"patch hash mismatch: the staged diff differs from the approved content")
	}

	if !rec.Authorizes(action) {
		return nil, domain.NewGateError(domain.ErrApprovalInvalid,
			domain.ReasonApprovalRejected,
			fmt.Sprintf("approval scope does not authorize %q", action))
	}

	return rec, nil
}
