package postgres

import (
	"context"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

// GetGlobalStats собирает агрегаты для дашборда Console API.
func (r *Repo) GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error) {
	s := &domain.GlobalStats{TopWorkflows: make(map[string]int64)}

	// 1. Состояние прогонов: всего, ожидают подтверждения
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE phase = 'WAITING_APPROVAL')
		FROM runs`).Scan(&s.TotalRuns, &s.WaitingApproval)
	if err != nil {
		return nil, err
	}

	// 2. Решения политик за последние 24 часа: доля запретов и число
	// заблокированных шагов считаются по следу аудита
	var policyChecks int64
	err = r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE kind = 'policy-checked'),
			COUNT(*) FILTER (WHERE kind = 'step-finished' AND metadata->>'status' = 'BLOCKED')
		FROM audit_events
		WHERE timestamp > NOW() - INTERVAL '24 hours'`).Scan(&policyChecks, &s.BlockedSteps)
	if err != nil {
		return nil, err
	}
	if policyChecks > 0 {
		s.DenyRatio = float64(s.BlockedSteps) / float64(policyChecks)
	}

	// 3. Топ workflow по числу прогонов
	rows, err := r.pool.Query(ctx, `
		SELECT workflow, COUNT(*)
		FROM runs
		GROUP BY workflow
		ORDER BY COUNT(*) DESC
		LIMIT 10`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var wf string
		var cnt int64
		if err := rows.Scan(&wf, &cnt); err != nil {
			return nil, err
		}
		s.TopWorkflows[wf] = cnt
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// 4. Почасовая активность за сутки
	hrows, err := r.pool.Query(ctx, `
		SELECT to_char(date_trunc('hour', created_at), 'HH24:00'), COUNT(*)
		FROM runs
		WHERE created_at > NOW() - INTERVAL '24 hours'
		GROUP BY date_trunc('hour', created_at)
		ORDER BY date_trunc('hour', created_at)`)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var p domain.ActivityPoint
		if err := hrows.Scan(&p.Hour, &p.Count); err != nil {
			return nil, err
		}
		s.HourlyActivity = append(s.HourlyActivity, p)
	}
	return s, hrows.Err()
}
