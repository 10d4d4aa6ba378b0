package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/devflow-orchestrator/internal/audit"
)

// WriteBatch — пакетная вставка событий аудита. Вызывается из
// audit.StorageHook по достижению порога буфера либо при остановке.
func (r *Repo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_events
	numFields := 11
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11)

		meta, _ := json.Marshal(e.Metadata)

		vals = append(vals,
			e.ID, e.TraceID, e.RunID, e.StepIndex, e.TenantID,
			e.ActorID, e.Kind, e.DecisionID, e.ApprovalID, meta, e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO audit_events (id, trace_id, run_id, step_index, tenant_id, actor_id, kind, decision_id, approval_id, metadata, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}

// FetchRunEvents возвращает полный след прогона в порядке записи.
// Порядок вставки совпадает с порядком событий в диспетчере (один
// воркер), поэтому сортировка по timestamp, id восстанавливает
// фактическую последовательность.
func (r *Repo) FetchRunEvents(ctx context.Context, runID string) ([]audit.Event, error) {
	query := `
		SELECT id, trace_id, run_id, step_index, tenant_id, actor_id, kind, decision_id, approval_id, metadata, timestamp
		FROM audit_events
		WHERE run_id = $1
		ORDER BY timestamp, id`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit events: %w", err)
	}
	defer rows.Close()

	results := make([]audit.Event, 0)
	for rows.Next() {
		var e audit.Event
		var meta []byte
		if err := rows.Scan(
			&e.ID, &e.TraceID, &e.RunID, &e.StepIndex, &e.TenantID,
			&e.ActorID, &e.Kind, &e.DecisionID, &e.ApprovalID, &meta, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit event: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: corrupt audit metadata: %w", err)
			}
		}
		results = append(results, e)
	}
	return results, rows.Err()
}
