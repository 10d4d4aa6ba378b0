package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

// Resolver готовит слияние конфликтов: из описания конфликтующих ханков
// собирает диф-кандидат. Сам диф только стейджится (WRITE), применять его
// будет Applier после апрува и вердикта политики.
type Resolver struct {
	inv ModelInvoker
}

func NewResolver(inv ModelInvoker) *Resolver { return &Resolver{inv: inv} }

func (r *Resolver) Role() domain.AgentRole    { return domain.RoleResolve }
func (r *Resolver) Class() domain.PolicyClass { return domain.ClassWrite }

func (r *Resolver) Run(ctx context.Context, input StepInput, _ domain.TenantContext) (StepOutput, error) {
	resp, err := r.inv.Invoke(ctx, "resolve.merge", input.Payload)
	if err != nil {
		return StepOutput{}, fmt.Errorf("resolver: %w", err)
	}

	var merged struct {
		Patch    string `json:"patch"`
		Strategy string `json:"strategy"`
	}
	if err := json.Unmarshal(resp, &merged); err != nil {
		return StepOutput{}, fmt.Errorf("resolver: unreadable model response: %w", err)
	}
	if merged.Patch == "" {
		return StepOutput{}, fmt.Errorf("resolver: model produced an empty patch")
	}

	summary := map[string]any{
		"target":      input.Target.Descriptor(),
		"strategy":    merged.Strategy,
		"patch_bytes": len(merged.Patch),
	}
	return StepOutput{Summary: summary, Patch: []byte(merged.Patch)}, nil
}
