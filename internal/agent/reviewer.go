package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

// Reviewer критикует застейдженный диф. Читает, не мутирует — класс READ.
type Reviewer struct {
	inv ModelInvoker
}

func NewReviewer(inv ModelInvoker) *Reviewer { return &Reviewer{inv: inv} }

func (r *Reviewer) Role() domain.AgentRole    { return domain.RoleReview }
func (r *Reviewer) Class() domain.PolicyClass { return domain.ClassRead }

func (r *Reviewer) Run(ctx context.Context, input StepInput, _ domain.TenantContext) (StepOutput, error) {
	if len(input.StagedPatch) == 0 {
		// review-only воркфлоу: рецензируем исходный запрос, а не диф
		resp, err := r.inv.Invoke(ctx, "review.critique", input.Payload)
		if err != nil {
			return StepOutput{}, fmt.Errorf("reviewer: %w", err)
		}
		return r.toOutput(input, resp)
	}

	resp, err := r.inv.Invoke(ctx, "review.critique", input.StagedPatch)
	if err != nil {
		return StepOutput{}, fmt.Errorf("reviewer: %w", err)
	}
	return r.toOutput(input, resp)
}

func (r *Reviewer) toOutput(input StepInput, resp []byte) (StepOutput, error) {
	var critique struct {
		Verdict  string   `json:"verdict"`
		Findings []string `json:"findings"`
	}
	if err := json.Unmarshal(resp, &critique); err != nil {
		return StepOutput{}, fmt.Errorf("reviewer: unreadable model response: %w", err)
	}
	if critique.Verdict == "reject" {
		return StepOutput{}, fmt.Errorf("reviewer: change rejected: %v", critique.Findings)
	}

	summary := map[string]any{
		"target":   input.Target.Descriptor(),
		"verdict":  critique.Verdict,
		"findings": len(critique.Findings),
	}
	return StepOutput{Summary: summary}, nil
}
