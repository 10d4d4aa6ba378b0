package domain

import (
	"errors"
	"testing"
)

func TestValidatePhaseTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    RunPhase
		to      RunPhase
		wantErr bool
	}{
		{"created to running", PhaseCreated, PhaseRunning, false},
		{"running to waiting", PhaseRunning, PhaseWaitingApproval, false},
		{"waiting back to running", PhaseWaitingApproval, PhaseRunning, false},
		{"running to succeeded", PhaseRunning, PhaseSucceeded, false},
		{"running to failed", PhaseRunning, PhaseFailed, false},
		{"created to cancelled", PhaseCreated, PhaseCancelled, false},
		{"waiting to cancelled", PhaseWaitingApproval, PhaseCancelled, false},
		{"created skips running", PhaseCreated, PhaseSucceeded, true},
		{"waiting cannot succeed directly", PhaseWaitingApproval, PhaseSucceeded, true},
		{"succeeded is terminal", PhaseSucceeded, PhaseRunning, true},
		{"failed is terminal", PhaseFailed, PhaseCancelled, true},
		{"cancelled is terminal", PhaseCancelled, PhaseRunning, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePhaseTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePhaseTransition(%s, %s) = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPhaseTransition) {
				t.Fatalf("error must wrap ErrInvalidPhaseTransition: %v", err)
			}
		})
	}
}

func TestTenantContextValidate(t *testing.T) {
	t.Parallel()

	valid := TenantContext{
		TenantID: "acme",
		Actor:    ActorContext{Type: ActorService, ID: "svc-1"},
		Channel:  ChannelAPI,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid context rejected: %v", err)
	}

	tests := []struct {
		name string
		tc   TenantContext
	}{
		{"empty tenant", TenantContext{Actor: valid.Actor, Channel: valid.Channel}},
		{"empty actor id", TenantContext{TenantID: "acme", Actor: ActorContext{Type: ActorHuman}, Channel: ChannelCLI}},
		{"unknown actor type", TenantContext{TenantID: "acme", Actor: ActorContext{Type: "robot", ID: "r1"}, Channel: ChannelCLI}},
		{"unknown channel", TenantContext{TenantID: "acme", Actor: valid.Actor, Channel: "carrier-pigeon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.tc.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestTargetDescriptor(t *testing.T) {
	t.Parallel()
	target := Target{Kind: "pr", Name: "42"}
	if got := target.Descriptor(); got != "pr/42" {
		t.Fatalf("Descriptor() = %s, want pr/42", got)
	}
}

func TestRunStatusCountsDoneSteps(t *testing.T) {
	t.Parallel()

	run := &Run{
		ID:    "r1",
		Phase: PhaseRunning,
		Steps: []RunStep{
			{Index: 0, Status: StepSucceeded},
			{Index: 1, Status: StepSucceeded},
			{Index: 2, Status: StepPending},
		},
	}
	st := run.Status()
	if st.StepsTotal != 3 || st.StepsDone != 2 {
		t.Fatalf("StepsTotal/StepsDone = %d/%d, want 3/2", st.StepsTotal, st.StepsDone)
	}
	if got := run.NextPendingStep(); got != 2 {
		t.Fatalf("NextPendingStep() = %d, want 2", got)
	}

	run.Steps[2].Status = StepSucceeded
	if got := run.NextPendingStep(); got != -1 {
		t.Fatalf("NextPendingStep() = %d, want -1 when all done", got)
	}
}

func TestApprovalRecordAuthorizes(t *testing.T) {
	t.Parallel()

	rec := &ApprovalRecord{Scope: []ApprovalAction{ActionCommit, ActionPush}}
	if !rec.Authorizes(ActionCommit) || !rec.Authorizes(ActionPush) {
		t.Fatal("scope must cover granted actions")
	}
	if rec.Authorizes(ActionMerge) {
		t.Fatal("scope must not cover merge")
	}
}

func TestParseApprovalAction(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"commit", "push", "open-change", "merge"} {
		if _, err := ParseApprovalAction(raw); err != nil {
			t.Fatalf("ParseApprovalAction(%q): %v", raw, err)
		}
	}
	if _, err := ParseApprovalAction("deploy"); err == nil {
		t.Fatal("unknown action must be rejected")
	}
}
