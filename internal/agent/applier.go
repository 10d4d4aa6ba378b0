package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

// Applier применяет застейдженный диф к целевой ветке (commit + push).
// Единственный специалист класса DESTRUCTIVE: до его вызова оркестратор
// требует валидный апрув (хэш + scope) И разрешение политики.
type Applier struct {
	inv ModelInvoker
}

func NewApplier(inv ModelInvoker) *Applier { return &Applier{inv: inv} }

func (a *Applier) Role() domain.AgentRole    { return domain.RoleApply }
func (a *Applier) Class() domain.PolicyClass { return domain.ClassDestructive }

// RequiredActions — минимальный scope апрува для этого шага
func (a *Applier) RequiredActions() []domain.ApprovalAction {
	return []domain.ApprovalAction{domain.ActionCommit}
}

func (a *Applier) Run(ctx context.Context, input StepInput, _ domain.TenantContext) (StepOutput, error) {
	if len(input.StagedPatch) == 0 {
		return StepOutput{}, fmt.Errorf("applier: nothing staged to apply")
	}

	resp, err := a.inv.Invoke(ctx, "apply.commit", input.StagedPatch)
	if err != nil {
		return StepOutput{}, fmt.Errorf("applier: %w", err)
	}

	var applied struct {
		Status   string `json:"status"`
		CommitID string `json:"commit_id"`
	}
	if err := json.Unmarshal(resp, &applied); err != nil {
		return StepOutput{}, fmt.Errorf("applier: unreadable backend response: %w", err)
	}

	summary := map[string]any{
		"target":    input.Target.Descriptor(),
		"status":    applied.Status,
		"commit_id": applied.CommitID,
	}
	return StepOutput{Summary: summary}, nil
}
