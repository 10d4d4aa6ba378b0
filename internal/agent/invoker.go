package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// ModelInvoker — медленный внешний вызов (языковая модель, внешнее API).
// Именно он — точка приостановки шага; гейты и переходы состояния вокруг
// него синхронны и быстры.
type ModelInvoker interface {
	Invoke(ctx context.Context, task string, payload []byte) ([]byte, error)
}

// ThrottleError возвращается, когда внешний провайдер просит подождать
// (считанный Retry-After заголовок). ReliabilityWrapper учитывает его
// при расчете задержки ретрая.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

// StubInvoker имитирует модельный бэкенд: задержка, детерминированные
// ответы по виду задачи. Нужен для dev-режима и интеграционных прогонов
// без внешних ключей.
type StubInvoker struct{}

func (c *StubInvoker) Invoke(ctx context.Context, task string, payload []byte) ([]byte, error) {
	// Имитируем задержку 50-300мс
	latency := time.Duration(50+rand.IntN(250)) * time.Millisecond

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch task {
	case "triage.score":
		var req struct {
			Conflicts []json.RawMessage `json:"conflicts"`
		}
		_ = json.Unmarshal(payload, &req)
		score := "low"
		if len(req.Conflicts) > 3 {
			score = "high"
		} else if len(req.Conflicts) > 1 {
			score = "medium"
		}
		return json.Marshal(map[string]any{
			"complexity": score,
			"conflicts":  len(req.Conflicts),
		})

	case "resolve.merge":
		var req struct {
			Conflicts []struct {
				File   string `json:"file"`
				Ours   string `json:"ours"`
				Theirs string `json:"theirs"`
			} `json:"conflicts"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("malformed conflict payload: %w", err)
		}
		var diff strings.Builder
		for _, c := range req.Conflicts {
			fmt.Fprintf(&diff, "--- a/%s\n+++ b/%s\n", c.File, c.File)
			fmt.Fprintf(&diff, "-%s\n+%s\n", c.Ours, c.Theirs)
		}
		return json.Marshal(map[string]any{
			"patch":    diff.String(),
			"strategy": "prefer-theirs",
		})

	case "review.critique":
		return json.Marshal(map[string]any{
			"verdict":  "approve",
			"findings": []string{},
		})

	case "apply.commit":
		return json.Marshal(map[string]any{
			"status":    "committed",
			"commit_id": fmt.Sprintf("sim-%08x", rand.Uint32()),
		})

	default:
		return nil, fmt.Errorf("task %s not supported by invoker", task)
	}
}
