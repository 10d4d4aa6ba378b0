package orchestrator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/devflow-orchestrator/internal/agent"
	"github.com/xela07ax/devflow-orchestrator/internal/approval"
	"github.com/xela07ax/devflow-orchestrator/internal/audit"
	"github.com/xela07ax/devflow-orchestrator/internal/domain"
	"github.com/xela07ax/devflow-orchestrator/internal/orchestrator"
	"github.com/xela07ax/devflow-orchestrator/internal/policy"
	"github.com/xela07ax/devflow-orchestrator/internal/repository/memory"
	"go.uber.org/zap"
)

// fakeInvoker отвечает мгновенно и детерминированно; умеет падать на
// заданной задаче и блокироваться на заданной задаче (для тестов
// конкурентности и отмены в полете)
type fakeInvoker struct {
	mu      sync.Mutex
	calls   map[string]int
	failOn  string
	blockOn string
	entered chan struct{} // Закрывается при входе в блокируемую задачу
	gate    chan struct{} // Invoke ждет закрытия
	once    sync.Once
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{calls: make(map[string]int)}
}

func (f *fakeInvoker) callCount(task string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[task]
}

func (f *fakeInvoker) Invoke(ctx context.Context, task string, payload []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls[task]++
	f.mu.Unlock()

	if task == f.blockOn {
		f.once.Do(func() { close(f.entered) })
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if task == f.failOn {
		return nil, fmt.Errorf("backend unavailable for %s", task)
	}

	switch task {
	case "triage.score":
		return json.Marshal(map[string]any{"complexity": "low", "conflicts": 1})
	case "resolve.merge":
		return json.Marshal(map[string]any{
			"patch":    "--- a/main.go\n+++ b/main.go\n-ours\n+theirs\n",
			"strategy": "prefer-theirs",
		})
	case "review.critique":
		return json.Marshal(map[string]any{"verdict": "approve", "findings": []string{}})
	case "apply.commit":
		return json.Marshal(map[string]any{"status": "committed", "commit_id": "sim-00000001"})
	default:
		return nil, fmt.Errorf("task %s not supported", task)
	}
}

// staticDocs — неизменяемый DocumentSource для тестов
type staticDocs map[string]*domain.PolicyDocument

func (s staticDocs) GetDocument(tenantID string) *domain.PolicyDocument { return s[tenantID] }

// fakeQueue записывает заявки оператору
type fakeQueue struct {
	mu       sync.Mutex
	requests []*domain.ApprovalRequest
}

func (q *fakeQueue) CreateApprovalRequest(_ context.Context, req *domain.ApprovalRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests = append(q.requests, req)
	return nil
}

func (q *fakeQueue) all() []*domain.ApprovalRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*domain.ApprovalRequest, len(q.requests))
	copy(out, q.requests)
	return out
}

type coreEnv struct {
	store    *memory.Store
	core     *orchestrator.Core
	inv      *fakeInvoker
	disp     *audit.Dispatcher
	stopOnce sync.Once
}

// stopAudit дожидается доставки всех событий в стор (Stop дренирует буфер)
func (e *coreEnv) stopAudit() {
	e.stopOnce.Do(e.disp.Stop)
}

func newCoreEnv(t *testing.T, docs staticDocs, cfg orchestrator.Config, inv *fakeInvoker) *coreEnv {
	t.Helper()
	if inv == nil {
		inv = newFakeInvoker()
	}
	store := memory.NewStore()
	logger := zap.NewNop()

	disp := audit.NewDispatcher(256, logger)
	disp.RegisterHook(audit.NewStorageHook(store, 1, time.Hour))
	disp.Start()

	core := orchestrator.NewCore(
		store,
		policy.NewEngine(docs),
		approval.NewProtocol(store, logger),
		disp,
		agent.DefaultRegistry(inv),
		orchestrator.NewMetrics(nil),
		logger,
		cfg,
	)

	env := &coreEnv{store: store, core: core, inv: inv, disp: disp}
	t.Cleanup(env.stopAudit)
	return env
}

func testTenant() domain.TenantContext {
	return domain.TenantContext{
		TenantID: "acme",
		Actor:    domain.ActorContext{Type: domain.ActorService, ID: "svc-ci"},
		Channel:  domain.ChannelAPI,
	}
}

func testTarget() domain.Target {
	return domain.Target{Kind: "pr", Name: "acme/api#412"}
}

func allowAllDocs() staticDocs {
	return staticDocs{"acme": {
		TenantID: "acme",
		Version:  "1",
		Defaults: map[domain.PolicyClass]domain.PolicyEffect{
			domain.ClassRead:        domain.EffectAllow,
			domain.ClassWrite:       domain.EffectAllow,
			domain.ClassDestructive: domain.EffectAllow,
		},
	}}
}

func startRun(t *testing.T, env *coreEnv, wf domain.WorkflowType) string {
	t.Helper()
	handle, err := env.core.StartRun(context.Background(), testTenant(), wf, testTarget(),
		[]byte(`{"conflicts":[{"file":"main.go","ours":"a","theirs":"b"}]}`))
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if handle.Status.Phase != domain.PhaseCreated {
		t.Fatalf("new run phase = %s, want %s", handle.Status.Phase, domain.PhaseCreated)
	}
	return handle.RunID
}

// advanceUntil крутит Advance, пока Run не достигнет фазы или лимита шагов
func advanceUntil(t *testing.T, env *coreEnv, runID string, want domain.RunPhase) domain.RunStatus {
	t.Helper()
	var status domain.RunStatus
	for i := 0; i < 10; i++ {
		var err error
		status, err = env.core.Advance(context.Background(), runID)
		if err != nil {
			t.Fatalf("Advance #%d: %v", i, err)
		}
		if status.Phase == want {
			return status
		}
		if status.Phase.IsTerminal() {
			t.Fatalf("run reached terminal %s (failure_code=%q) while waiting for %s",
				status.Phase, status.FailureCode, want)
		}
	}
	t.Fatalf("run never reached %s, stuck at %s", want, status.Phase)
	return status
}

func TestReviewOnlyRunSucceeds(t *testing.T) {
	t.Parallel()
	// Документа у тенанта нет: системный дефолт запрещает WRITE/DESTRUCTIVE,
	// но review-only состоит только из READ-шагов
	env := newCoreEnv(t, staticDocs{}, orchestrator.Config{}, nil)
	runID := startRun(t, env, domain.WorkflowReviewOnly)

	status := advanceUntil(t, env, runID, domain.PhaseSucceeded)
	if status.Result != domain.ResultSuccess {
		t.Fatalf("result = %s, want %s", status.Result, domain.ResultSuccess)
	}
	if status.StepsDone != 2 || status.StepsTotal != 2 {
		t.Fatalf("steps done/total = %d/%d, want 2/2", status.StepsDone, status.StepsTotal)
	}
}

func TestStepIndicesContiguous(t *testing.T) {
	t.Parallel()
	env := newCoreEnv(t, allowAllDocs(), orchestrator.Config{}, nil)
	runID := startRun(t, env, domain.WorkflowConflictResolution)

	run, err := env.store.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(run.Steps) != 4 {
		t.Fatalf("conflict-resolution route has %d steps, want 4", len(run.Steps))
	}
	for i, step := range run.Steps {
		if step.Index != i {
			t.Errorf("step %d has index %d", i, step.Index)
		}
		if step.Status != domain.StepPending {
			t.Errorf("step %d created as %s, want %s", i, step.Status, domain.StepPending)
		}
	}
	if run.Steps[3].Class != domain.ClassDestructive {
		t.Errorf("apply step class = %s, want %s", run.Steps[3].Class, domain.ClassDestructive)
	}
}

func TestDestructiveStepSuspendsForApproval(t *testing.T) {
	t.Parallel()
	env := newCoreEnv(t, allowAllDocs(), orchestrator.Config{}, nil)
	queue := &fakeQueue{}
	env.core.SetApprovalQueue(queue)
	runID := startRun(t, env, domain.WorkflowConflictResolution)

	status := advanceUntil(t, env, runID, domain.PhaseWaitingApproval)
	if status.StepsDone != 3 {
		t.Fatalf("steps done before apply = %d, want 3", status.StepsDone)
	}

	run, err := env.store.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.StagedPatchHash == "" {
		t.Fatal("resolver output must be staged with a patch hash before the apply gate")
	}
	if run.WaitingSince.IsZero() {
		t.Fatal("WaitingSince must be set on suspension")
	}

	// Повторный Advance без апрува ничего не меняет и не дублирует заявку
	again, err := env.core.Advance(context.Background(), runID)
	if err != nil {
		t.Fatalf("Advance while waiting: %v", err)
	}
	if again.Phase != domain.PhaseWaitingApproval {
		t.Fatalf("phase after idle Advance = %s, want %s", again.Phase, domain.PhaseWaitingApproval)
	}

	reqs := queue.all()
	if len(reqs) != 1 {
		t.Fatalf("operator queue has %d requests, want 1", len(reqs))
	}
	if reqs[0].RunID != runID || reqs[0].PatchHash != run.StagedPatchHash {
		t.Errorf("queued request %+v does not match run %s / hash %s", reqs[0], runID, run.StagedPatchHash)
	}
	if reqs[0].Status != domain.StatusPending {
		t.Errorf("queued request status = %s, want %s", reqs[0].Status, domain.StatusPending)
	}
}

func TestApprovalResumesRunToSuccess(t *testing.T) {
	t.Parallel()
	env := newCoreEnv(t, allowAllDocs(), orchestrator.Config{}, nil)
	runID := startRun(t, env, domain.WorkflowConflictResolution)
	advanceUntil(t, env, runID, domain.PhaseWaitingApproval)

	run, err := env.store.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	status, err := env.core.SubmitApproval(context.Background(), domain.ApprovalSubmission{
		RunID:     runID,
		Approver:  "lead@acme",
		Scope:     []domain.ApprovalAction{domain.ActionCommit},
		PatchHash: run.StagedPatchHash,
	})
	if err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}
	if status.Phase != domain.PhaseSucceeded {
		t.Fatalf("phase after valid approval = %s, want %s", status.Phase, domain.PhaseSucceeded)
	}
	if status.StepsDone != 4 {
		t.Fatalf("steps done = %d, want 4", status.StepsDone)
	}

	final, _ := env.store.GetRun(context.Background(), runID)
	if final.Steps[3].ApprovalID == "" {
		t.Error("apply step must reference the approval record")
	}
	if !final.WaitingSince.IsZero() {
		t.Error("WaitingSince must be cleared after resume")
	}
}

func TestApprovalWithStaleHashKeepsWaiting(t *testing.T) {
	t.Parallel()
	env := newCoreEnv(t, allowAllDocs(), orchestrator.Config{}, nil)
	runID := startRun(t, env, domain.WorkflowConflictResolution)
	advanceUntil(t, env, runID, domain.PhaseWaitingApproval)

	// Апрув привязан к другому дифу: гейт обязан его отклонить
	status, err := env.core.SubmitApproval(context.Background(), domain.ApprovalSubmission{
		RunID:     runID,
		Approver:  "lead@acme",
		Scope:     []domain.ApprovalAction{domain.ActionCommit},
		PatchHash: approval.PatchHash([]byte("a completely different diff")),
	})
	if err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}
	if status.Phase != domain.PhaseWaitingApproval {
		t.Fatalf("phase after stale approval = %s, want %s", status.Phase, domain.PhaseWaitingApproval)
	}

	env.stopAudit()
	if !hasEventKind(env.store.Events(), audit.KindApprovalRejected) {
		t.Error("audit trail must record the rejected approval")
	}
}

func TestApprovalScopeMismatchKeepsWaiting(t *testing.T) {
	t.Parallel()
	env := newCoreEnv(t, allowAllDocs(), orchestrator.Config{}, nil)
	runID := startRun(t, env, domain.WorkflowConflictResolution)
	advanceUntil(t, env, runID, domain.PhaseWaitingApproval)

	run, _ := env.store.GetRun(context.Background(), runID)

	// Scope {push} не покрывает commit, который требует Applier
	status, err := env.core.SubmitApproval(context.Background(), domain.ApprovalSubmission{
		RunID:     runID,
		Approver:  "lead@acme",
		Scope:     []domain.ApprovalAction{domain.ActionPush},
		PatchHash: run.StagedPatchHash,
	})
	if err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}
	if status.Phase != domain.PhaseWaitingApproval {
		t.Fatalf("phase after out-of-scope approval = %s, want %s", status.Phase, domain.PhaseWaitingApproval)
	}
}

func TestCancelBeatsLateApproval(t *testing.T) {
	t.Parallel()
	env := newCoreEnv(t, allowAllDocs(), orchestrator.Config{}, nil)
	runID := startRun(t, env, domain.WorkflowConflictResolution)
	advanceUntil(t, env, runID, domain.PhaseWaitingApproval)

	if err := env.core.Cancel(context.Background(), runID, "operator-abort"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	run, _ := env.store.GetRun(context.Background(), runID)
	if run.Phase != domain.PhaseCancelled {
		t.Fatalf("phase after cancel = %s, want %s", run.Phase, domain.PhaseCancelled)
	}

	// Запоздавший апрув записывается, но ничего не возобновляет
	status, err := env.core.SubmitApproval(context.Background(), domain.ApprovalSubmission{
		RunID:     runID,
		Approver:  "lead@acme",
		Scope:     []domain.ApprovalAction{domain.ActionCommit},
		PatchHash: run.StagedPatchHash,
	})
	if err != nil {
		t.Fatalf("late SubmitApproval: %v", err)
	}
	if status.Phase != domain.PhaseCancelled {
		t.Fatalf("late approval resurrected run: phase = %s", status.Phase)
	}
	if rec, _ := env.store.GetApproval(context.Background(), runID); rec == nil {
		t.Error("late approval must still be recorded for the audit trail")
	}

	// Повторная отмена — no-op
	if err := env.core.Cancel(context.Background(), runID, ""); err != nil {
		t.Fatalf("repeated Cancel: %v", err)
	}
}

func TestApprovalTimeoutCancelsRun(t *testing.T) {
	t.Parallel()
	env := newCoreEnv(t, allowAllDocs(), orchestrator.Config{ApprovalTTL: 10 * time.Millisecond}, nil)
	runID := startRun(t, env, domain.WorkflowConflictResolution)
	advanceUntil(t, env, runID, domain.PhaseWaitingApproval)

	time.Sleep(25 * time.Millisecond)

	status, err := env.core.Advance(context.Background(), runID)
	if err != nil {
		t.Fatalf("Advance after TTL: %v", err)
	}
	if status.Phase != domain.PhaseCancelled {
		t.Fatalf("phase after TTL = %s, want %s", status.Phase, domain.PhaseCancelled)
	}
	if status.FailureCode != string(domain.ReasonApprovalTimeout) {
		t.Fatalf("failure code = %q, want %q", status.FailureCode, domain.ReasonApprovalTimeout)
	}
}

func TestPolicyDenyBlocksWriteStep(t *testing.T) {
	t.Parallel()
	docs := staticDocs{"acme": {
		TenantID: "acme",
		Version:  "1",
		Defaults: map[domain.PolicyClass]domain.PolicyEffect{
			domain.ClassRead:        domain.EffectAllow,
			domain.ClassWrite:       domain.EffectDeny,
			domain.ClassDestructive: domain.EffectDeny,
		},
	}}
	env := newCoreEnv(t, docs, orchestrator.Config{}, nil)
	runID := startRun(t, env, domain.WorkflowConflictResolution)

	status := advanceUntil(t, env, runID, domain.PhaseFailed)
	if status.FailureCode != string(domain.ReasonDenyNoPolicyMatch) {
		t.Fatalf("failure code = %q, want %q", status.FailureCode, domain.ReasonDenyNoPolicyMatch)
	}

	run, _ := env.store.GetRun(context.Background(), runID)
	if run.Steps[1].Status != domain.StepBlocked {
		t.Fatalf("resolve step status = %s, want %s", run.Steps[1].Status, domain.StepBlocked)
	}
	if env.inv.callCount("resolve.merge") != 0 {
		t.Error("blocked step must never reach the agent backend")
	}
}

func TestApprovedButPolicyDeniedStaysBlocked(t *testing.T) {
	t.Parallel()
	// WRITE разрешен (резолвер проходит), DESTRUCTIVE запрещен:
	// валидный апрув не обходит вето политики
	docs := staticDocs{"acme": {
		TenantID: "acme",
		Version:  "1",
		Defaults: map[domain.PolicyClass]domain.PolicyEffect{
			domain.ClassRead:        domain.EffectAllow,
			domain.ClassWrite:       domain.EffectAllow,
			domain.ClassDestructive: domain.EffectDeny,
		},
	}}
	env := newCoreEnv(t, docs, orchestrator.Config{}, nil)
	runID := startRun(t, env, domain.WorkflowConflictResolution)
	advanceUntil(t, env, runID, domain.PhaseWaitingApproval)

	run, _ := env.store.GetRun(context.Background(), runID)
	status, err := env.core.SubmitApproval(context.Background(), domain.ApprovalSubmission{
		RunID:     runID,
		Approver:  "lead@acme",
		Scope:     []domain.ApprovalAction{domain.ActionCommit},
		PatchHash: run.StagedPatchHash,
	})
	if err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}
	if status.Phase != domain.PhaseFailed {
		t.Fatalf("phase = %s, want %s", status.Phase, domain.PhaseFailed)
	}
	if status.FailureCode != string(domain.ReasonDenyNoPolicyMatch) {
		t.Fatalf("failure code = %q, want %q", status.FailureCode, domain.ReasonDenyNoPolicyMatch)
	}
	if env.inv.callCount("apply.commit") != 0 {
		t.Error("denied destructive step must never reach the agent backend")
	}
}

func TestAgentFailureFailsRun(t *testing.T) {
	t.Parallel()
	inv := newFakeInvoker()
	inv.failOn = "review.critique"
	env := newCoreEnv(t, allowAllDocs(), orchestrator.Config{}, inv)
	runID := startRun(t, env, domain.WorkflowReviewOnly)

	status := advanceUntil(t, env, runID, domain.PhaseFailed)
	if status.FailureCode != string(domain.ReasonAgentFailure) {
		t.Fatalf("failure code = %q, want %q", status.FailureCode, domain.ReasonAgentFailure)
	}

	run, _ := env.store.GetRun(context.Background(), runID)
	if run.Steps[1].Status != domain.StepFailed {
		t.Fatalf("review step status = %s, want %s", run.Steps[1].Status, domain.StepFailed)
	}
	if run.Steps[1].Error == "" {
		t.Error("failed step must persist the agent error")
	}

	env.stopAudit()
	if !hasEventKind(env.store.Events(), audit.KindAgentFailed) {
		t.Error("audit trail must record the agent failure")
	}
}

func TestConcurrentAdvanceExecutesStepOnce(t *testing.T) {
	t.Parallel()
	inv := newFakeInvoker()
	inv.blockOn = "triage.score"
	inv.entered = make(chan struct{})
	inv.gate = make(chan struct{})
	env := newCoreEnv(t, staticDocs{}, orchestrator.Config{}, inv)
	runID := startRun(t, env, domain.WorkflowReviewOnly)

	done := make(chan domain.RunStatus, 1)
	go func() {
		status, err := env.core.Advance(context.Background(), runID)
		if err != nil {
			t.Errorf("blocked Advance: %v", err)
		}
		done <- status
	}()

	<-inv.entered // Первый Advance висит внутри вызова агента

	// Конкурентный Advance не ждет лок: возвращает персистентное
	// состояние и не исполняет шаг повторно
	status, err := env.core.Advance(context.Background(), runID)
	if err != nil {
		t.Fatalf("concurrent Advance: %v", err)
	}
	if status.Phase != domain.PhaseRunning {
		t.Fatalf("concurrent Advance saw phase %s, want %s", status.Phase, domain.PhaseRunning)
	}

	close(inv.gate)
	<-done

	if n := inv.callCount("triage.score"); n != 1 {
		t.Fatalf("triage invoked %d times, want exactly 1", n)
	}
}

func TestCancelDuringInFlightStepDiscardsResult(t *testing.T) {
	t.Parallel()
	inv := newFakeInvoker()
	inv.blockOn = "triage.score"
	inv.entered = make(chan struct{})
	inv.gate = make(chan struct{})
	env := newCoreEnv(t, staticDocs{}, orchestrator.Config{}, inv)
	runID := startRun(t, env, domain.WorkflowReviewOnly)

	done := make(chan domain.RunStatus, 1)
	go func() {
		status, err := env.core.Advance(context.Background(), runID)
		if err != nil {
			t.Errorf("blocked Advance: %v", err)
		}
		done <- status
	}()

	<-inv.entered

	// Лок занят шагом в полете: отмена откладывается до границы шага
	if err := env.core.Cancel(context.Background(), runID, "user-changed-mind"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	close(inv.gate)
	status := <-done

	if status.Phase != domain.PhaseCancelled {
		t.Fatalf("phase = %s, want %s", status.Phase, domain.PhaseCancelled)
	}
	if status.FailureCode != "user-changed-mind" {
		t.Fatalf("failure code = %q, want the cancel reason", status.FailureCode)
	}

	// Результат шага выброшен: шаг вернулся в PENDING, ничего не завершено
	run, _ := env.store.GetRun(context.Background(), runID)
	if run.Steps[0].Status != domain.StepPending {
		t.Fatalf("in-flight step status = %s, want %s", run.Steps[0].Status, domain.StepPending)
	}
}

func TestCancelUnknownAndTerminalRuns(t *testing.T) {
	t.Parallel()
	env := newCoreEnv(t, staticDocs{}, orchestrator.Config{}, nil)

	if err := env.core.Cancel(context.Background(), "no-such-run", ""); err == nil {
		t.Error("cancelling an unknown run must fail")
	}

	runID := startRun(t, env, domain.WorkflowReviewOnly)
	advanceUntil(t, env, runID, domain.PhaseSucceeded)

	err := env.core.Cancel(context.Background(), runID, "")
	if err == nil {
		t.Fatal("cancelling a succeeded run must fail")
	}
}

func TestResumeAllPicksUpActiveRuns(t *testing.T) {
	t.Parallel()
	env := newCoreEnv(t, staticDocs{}, orchestrator.Config{}, nil)
	runID := startRun(t, env, domain.WorkflowReviewOnly)

	if err := env.core.ResumeAll(context.Background()); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}

	run, _ := env.store.GetRun(context.Background(), runID)
	if run.Phase == domain.PhaseCreated {
		t.Fatal("ResumeAll must advance runs stuck in CREATED")
	}
}

func TestAuditTrailReconstructsRunSequence(t *testing.T) {
	t.Parallel()
	env := newCoreEnv(t, allowAllDocs(), orchestrator.Config{}, nil)
	runID := startRun(t, env, domain.WorkflowConflictResolution)
	advanceUntil(t, env, runID, domain.PhaseWaitingApproval)

	run, _ := env.store.GetRun(context.Background(), runID)
	if _, err := env.core.SubmitApproval(context.Background(), domain.ApprovalSubmission{
		RunID:     runID,
		Approver:  "lead@acme",
		Scope:     []domain.ApprovalAction{domain.ActionCommit},
		PatchHash: run.StagedPatchHash,
	}); err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}

	env.stopAudit()

	want := []audit.EventKind{
		audit.KindRunCreated,       // run
		audit.KindStepStarted,      // 0: triage (READ, без гейта политики)
		audit.KindStepFinished,     // 0
		audit.KindPolicyChecked,    // 1: resolve (WRITE)
		audit.KindStepStarted,      // 1
		audit.KindStepFinished,     // 1
		audit.KindStepStarted,      // 2: review (READ)
		audit.KindStepFinished,     // 2
		audit.KindApprovalRequired, // 3: apply без апрува
		audit.KindApprovalVerified, // 3: после SubmitApproval
		audit.KindPolicyChecked,    // 3: политика проверяется и после апрува
		audit.KindStepStarted,      // 3
		audit.KindStepFinished,     // 3
		audit.KindRunFinished,      // run
	}

	events := env.store.Events()
	if len(events) != len(want) {
		t.Fatalf("audit trail has %d events, want %d: %v", len(events), len(want), kindsOf(events))
	}
	for i, kind := range want {
		if events[i].Kind != kind {
			t.Fatalf("event %d = %s, want %s (full trail: %v)", i, events[i].Kind, kind, kindsOf(events))
		}
		if events[i].RunID != runID {
			t.Errorf("event %d run_id = %q, want %q", i, events[i].RunID, runID)
		}
		if events[i].TenantID != "acme" {
			t.Errorf("event %d tenant_id = %q, want acme", i, events[i].TenantID)
		}
	}

	// События уровня шага ссылаются на решение политики и апрув
	applyStarted := events[11]
	if applyStarted.StepIndex != 3 {
		t.Errorf("apply step-started index = %d, want 3", applyStarted.StepIndex)
	}
	if applyStarted.DecisionID == "" || applyStarted.ApprovalID == "" {
		t.Error("apply step-started must reference both the policy decision and the approval")
	}
}

func hasEventKind(events []audit.Event, kind audit.EventKind) bool {
	for _, e := range events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func kindsOf(events []audit.Event) []audit.EventKind {
	kinds := make([]audit.EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}
