package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

// Triage оценивает сложность запроса на изменение кода и дает рекомендацию
// маршрута. Ничего не мутирует — класс READ.
type Triage struct {
	inv ModelInvoker
}

func NewTriage(inv ModelInvoker) *Triage { return &Triage{inv: inv} }

func (t *Triage) Role() domain.AgentRole    { return domain.RoleTriage }
func (t *Triage) Class() domain.PolicyClass { return domain.ClassRead }

func (t *Triage) Run(ctx context.Context, input StepInput, _ domain.TenantContext) (StepOutput, error) {
	resp, err := t.inv.Invoke(ctx, "triage.score", input.Payload)
	if err != nil {
		return StepOutput{}, fmt.Errorf("triage: %w", err)
	}

	var scored map[string]any
	if err := json.Unmarshal(resp, &scored); err != nil {
		return StepOutput{}, fmt.Errorf("triage: unreadable model response: %w", err)
	}

	summary := map[string]any{
		"target":     input.Target.Descriptor(),
		"complexity": scored["complexity"],
		"conflicts":  scored["conflicts"],
	}
	return StepOutput{Summary: summary}, nil
}
