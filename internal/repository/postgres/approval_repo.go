package postgres

/*
Файл approval_repo.go содержит реализацию механизма Human-in-the-loop (HITL, «человек в контуре»):
очередь заявок на подтверждение (Decision Queue) и хранилище выданных подтверждений,
привязанных к хэшу подготовленного diff.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

// --- ApprovalRecord: выданные подтверждения (internal/approval.RecordStore) ---

// PutApproval сохраняет подтверждение оператора. Подтверждение привязано
// к прогону и хэшу diff: одна актуальная запись на прогон, повторная
// выдача перезаписывает предыдущую.
func (r *Repo) PutApproval(ctx context.Context, rec *domain.ApprovalRecord) error {
	query := `
		INSERT INTO approval_records (id, run_id, approver, scope, patch_hash, comment, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE
		SET id = EXCLUDED.id,
		    approver = EXCLUDED.approver,
		    scope = EXCLUDED.scope,
		    patch_hash = EXCLUDED.patch_hash,
		    comment = EXCLUDED.comment,
		    granted_at = EXCLUDED.granted_at`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.RunID, rec.Approver, rec.Scope, rec.PatchHash, rec.Comment, rec.GrantedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to store approval record: %w", err)
	}
	return nil
}

// GetApproval возвращает актуальное подтверждение прогона либо nil, если его нет.
func (r *Repo) GetApproval(ctx context.Context, runID string) (*domain.ApprovalRecord, error) {
	query := `SELECT id, run_id, approver, scope, patch_hash, comment, granted_at
	          FROM approval_records WHERE run_id = $1`

	var rec domain.ApprovalRecord
	err := r.pool.QueryRow(ctx, query, runID).Scan(
		&rec.ID, &rec.RunID, &rec.Approver, &rec.Scope, &rec.PatchHash, &rec.Comment, &rec.GrantedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch approval record: %w", err)
	}
	return &rec, nil
}

// --- ApprovalRequest: очередь заявок для Console API ---

// GetApprovalRequestByID получение деталей заявки для анализа оператором.
func (r *Repo) GetApprovalRequestByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `SELECT id, run_id, tenant_id, step_index, patch_hash, status, reviewer_id, comment, created_at, updated_at
	          FROM approval_requests WHERE id = $1`

	row := r.pool.QueryRow(ctx, query, id)

	var app domain.ApprovalRequest
	var reviewerID, comment sql.NullString // Используем для обработки NULL из БД

	err := row.Scan(
		&app.ID,
		&app.RunID,
		&app.TenantID,
		&app.StepIndex,
		&app.PatchHash,
		&app.Status,
		&reviewerID,
		&comment,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrApprovalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	// Маппим NULL значения в строки (если есть)
	if reviewerID.Valid {
		val := reviewerID.String
		app.ReviewerID = &val
	}
	if comment.Valid {
		val := comment.String
		app.Comment = &val
	}

	return &app, nil
}

// FindApprovalRequests фильтрация и выборка списка заявок (Decision Queue).
func (r *Repo) FindApprovalRequests(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
	query := `SELECT id, run_id, tenant_id, step_index, patch_hash, status, reviewer_id, comment, created_at, updated_at
              FROM approval_requests`

	var args []interface{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}

	query += " ORDER BY created_at DESC LIMIT 100"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query approval requests: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.ApprovalRequest, 0)

	for rows.Next() {
		var app domain.ApprovalRequest
		var reviewerID, comment sql.NullString

		err := rows.Scan(
			&app.ID, &app.RunID, &app.TenantID, &app.StepIndex,
			&app.PatchHash, &app.Status, &reviewerID, &comment,
			&app.CreatedAt, &app.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan approval request: %w", err)
		}

		if reviewerID.Valid {
			val := reviewerID.String
			app.ReviewerID = &val
		}
		if comment.Valid {
			val := comment.String
			app.Comment = &val
		}

		results = append(results, &app)
	}

	return results, rows.Err()
}

// CreateApprovalRequest создает запись в очереди заявок. Оркестратор вызывает
// её при переводе прогона в WAITING_APPROVAL, чтобы операторы через
// Console API увидели приостановленный прогон.
func (r *Repo) CreateApprovalRequest(ctx context.Context, app *domain.ApprovalRequest) error {
	query := `INSERT INTO approval_requests (id, run_id, tenant_id, step_index, patch_hash, status)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, app.ID, app.RunID, app.TenantID, app.StepIndex, app.PatchHash, app.Status)
	if err != nil {
		return fmt.Errorf("postgres: failed to create approval request: %w", err)
	}
	return nil
}

// UpdateApprovalRequestStatus атомарно обновляет статус заявки.
// Использует условие WHERE status = 'PENDING' для предотвращения Double Decision.
// Возвращает run_id, который необходим для отправки сигнала в Redis.
func (r *Repo) UpdateApprovalRequestStatus(ctx context.Context, id string, status domain.ApprovalStatus, reviewerID, comment string) (string, error) {
	var runID string
	// RETURNING позволяет получить run_id за один проход,
	// не делая предварительный SELECT (исключение Race Condition)
	query := `
		UPDATE approval_requests
		SET status = $1,
		    reviewer_id = $2,
		    comment = $3,
		    updated_at = NOW()
		WHERE id = $4 AND status = 'PENDING'
		RETURNING run_id`

	err := r.pool.QueryRow(ctx, query, status, reviewerID, comment, id).Scan(&runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Если строк не найдено, значит либо ID неверный,
			// либо (что чаще) решение по этой заявке уже было принято ранее
			return "", domain.ErrAlreadyProcessed
		}
		return "", fmt.Errorf("postgres: failed to update approval request status: %w", err)
	}
	return runID, nil
}
