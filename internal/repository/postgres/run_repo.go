package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

// Прогоны храним документом: колонки tenant_id/workflow/phase нужны
// для выборок и статистики, полное состояние (шаги, staged patch,
// результат) лежит в JSONB и сериализуется целиком при каждом
// сохранении. Переход считается зафиксированным только после
// успешного UPDATE.

func (r *Repo) CreateRun(ctx context.Context, run *domain.Run) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("run marshal: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO runs (id, tenant_id, workflow, phase, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Tenant.TenantID, run.WorkflowType, run.Phase, doc, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("run insert: %w", err)
	}
	return nil
}

func (r *Repo) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM runs WHERE id = $1`, runID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("run select: %w", err)
	}

	var run domain.Run
	if err := json.Unmarshal(doc, &run); err != nil {
		return nil, fmt.Errorf("run unmarshal: %w", err)
	}
	return &run, nil
}

func (r *Repo) UpdateRun(ctx context.Context, run *domain.Run) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("run marshal: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE runs SET phase = $2, doc = $3, updated_at = $4 WHERE id = $1`,
		run.ID, run.Phase, doc, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("run update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// ListActiveRuns возвращает ID всех незавершённых прогонов. Используется
// при рестарте оркестратора для возобновления работы.
func (r *Repo) ListActiveRuns(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM runs
		WHERE phase NOT IN ('SUCCEEDED', 'FAILED', 'CANCELLED')
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("active runs select: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("active runs scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListRuns — постраничная выборка для консоли, фильтр по тенанту опционален.
func (r *Repo) ListRuns(ctx context.Context, tenantID string, limit, offset int) ([]*domain.Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT doc FROM runs`
	args := []interface{}{}
	if tenantID != "" {
		query += ` WHERE tenant_id = $1`
		args = append(args, tenantID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("runs select: %w", err)
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("runs scan: %w", err)
		}
		var run domain.Run
		if err := json.Unmarshal(doc, &run); err != nil {
			return nil, fmt.Errorf("runs unmarshal: %w", err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
