package orchestrator

/*
Пакет orchestrator — ядро DevFlow Control Plane. Ведет конечный автомат Run:
CREATED -> RUNNING -> {WAITING_APPROVAL, SUCCEEDED, FAILED, CANCELLED},
последовательно вызывает специалистов по таблице маршрутизации и гейтирует
мутирующие шаги.

Правило гейтирования:
  - WRITE: запрос к движку политик; отказ -> шаг BLOCKED, Run FAILED.
  - DESTRUCTIVE: сначала апрув (нет/невалиден -> WAITING_APPROVAL),
    затем все равно политика — отказ блокирует шаг даже при валидном апруве.
    Обе проверки обязательны и независимы: апрув не обходит Default Deny,
    политика не заменяет подпись человека.

Каждый переход персистится в RunStore до того, как считается
зафиксированным; после рестарта Run продолжается строго с последнего
сохраненного шага. Состояние, не доехавшее до стора перед падением,
теряется — это задокументированное ограничение, не скрытое поведение.
*/

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/devflow-orchestrator/internal/agent"
	"github.com/xela07ax/devflow-orchestrator/internal/approval"
	"github.com/xela07ax/devflow-orchestrator/internal/audit"
	"github.com/xela07ax/devflow-orchestrator/internal/domain"
	"github.com/xela07ax/devflow-orchestrator/internal/infra"
	"github.com/xela07ax/devflow-orchestrator/internal/policy"
	"go.uber.org/zap"
)

// RunStore — контракт долговременного хранилища Run.
// Ядро зависит только от этих операций, не от технологии хранения.
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	UpdateRun(ctx context.Context, run *domain.Run) error
	// ListActiveRuns возвращает ID всех нетерминальных Run (для резюма после рестарта)
	ListActiveRuns(ctx context.Context) ([]string, error)
}

// ApprovalQueue — очередь заявок для операторов (Decision Queue в Console API).
// Опциональная зависимость: без нее апрувы подаются только напрямую через run API.
type ApprovalQueue interface {
	CreateApprovalRequest(ctx context.Context, req *domain.ApprovalRequest) error
}

// Config — настройки ядра из секции orchestrator конфига
type Config struct {
	// ApprovalTTL — сколько Run может висеть в WAITING_APPROVAL до
	// автоотмены (approval-timeout). 0 — без таймаута.
	ApprovalTTL time.Duration
}

// RunHandle возвращается при создании Run
type RunHandle struct {
	RunID  string           `json:"run_id"`
	Status domain.RunStatus `json:"status"`
}

// Core композирует движок политик, протокол апрувов, диспетчер аудита
// и реестр специалистов. Все зависимости передаются явно через конструктор —
// никаких глобальных синглтонов (изоляция per-test и per-tenant).
type Core struct {
	runs      RunStore
	evaluator policy.Evaluator
	approvals *approval.Protocol
	auditor   *audit.Dispatcher
	registry  *agent.Registry
	metrics   *Metrics
	logger    *zap.Logger
	cfg       Config

	// queue == nil допустимо: постановка заявок оператору отключена
	queue ApprovalQueue

	locks *KeyedLocks
	// Кооперативная отмена: флаг проверяется на границах шагов,
	// агент в полете не прерывается — его результат просто выбрасывается
	cancelRequests sync.Map // run_id -> reason string
}

func NewCore(
	runs RunStore,
	evaluator policy.Evaluator,
	approvals *approval.Protocol,
	auditor *audit.Dispatcher,
	registry *agent.Registry,
	metrics *Metrics,
	logger *zap.Logger,
	cfg Config,
) *Core {
	return &Core{
		runs:      runs,
		evaluator: evaluator,
		approvals: approvals,
		auditor:   auditor,
		registry:  registry,
		metrics:   metrics,
		logger:    logger.Named("orchestrator"),
		cfg:       cfg,
		locks:     NewKeyedLocks(),
	}
}

// SetApprovalQueue подключает очередь заявок оператора. Вызывается при
// сборке до старта обработки запросов.
func (c *Core) SetApprovalQueue(q ApprovalQueue) {
	c.queue = q
}

// StartRun принимает нормализованный запрос и создает Run с маршрутом шагов
func (c *Core) StartRun(ctx context.Context, tc domain.TenantContext, wf domain.WorkflowType, target domain.Target, payload []byte) (*RunHandle, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}

	roles, err := c.registry.Route(wf)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &domain.Run{
		ID:           uuid.New().String(),
		Tenant:       tc,
		WorkflowType: wf,
		Target:       target,
		Phase:        domain.PhaseCreated,
		Payload:      payload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Шаги материализуются сразу: индексы непрерывны с нуля,
	// класс каждого шага берется из зарегистрированного специалиста
	for i, role := range roles {
		spec, err := c.registry.Get(role)
		if err != nil {
			return nil, err
		}
		run.Steps = append(run.Steps, domain.RunStep{
			Index:  i,
			Role:   role,
			Class:  spec.Class(),
			Status: domain.StepPending,
		})
	}

	if err := c.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("orchestrator: failed to persist run: %w", err)
	}

	c.metrics.RunsTotal.WithLabelValues(string(wf)).Inc()
	c.emit(ctx, run, -1, audit.KindRunCreated, "", "", map[string]any{
		"workflow": string(wf),
		"target":   target.Descriptor(),
		"steps":    len(run.Steps),
	})

	c.logger.Info("run created",
		zap.String("run_id", run.ID),
		zap.String("tenant_id", tc.TenantID),
		zap.String("workflow", string(wf)),
	)

	return &RunHandle{RunID: run.ID, Status: run.Status()}, nil
}

// Advance продвигает Run максимум на один шаг.
// Конкурентный Advance того же Run не исполняет ничего повторно:
// не получив лок, он возвращает последнее персистентное состояние.
func (c *Core) Advance(ctx context.Context, runID string) (domain.RunStatus, error) {
	release, ok := c.locks.TryLock(runID)
	if !ok {
		run, err := c.runs.GetRun(ctx, runID)
		if err != nil {
			return domain.RunStatus{}, err
		}
		return run.Status(), nil
	}
	defer release()

	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return domain.RunStatus{}, err
	}
	if run.Phase.IsTerminal() {
		return run.Status(), nil
	}

	// Граница шага — точка кооперативной отмены
	if reason, pending := c.takeCancelRequest(runID); pending {
		if err := c.finalizeCancelled(ctx, run, reason); err != nil {
			return domain.RunStatus{}, err
		}
		return run.Status(), nil
	}

	switch run.Phase {
	case domain.PhaseCreated:
		if err := c.transition(ctx, run, domain.PhaseRunning); err != nil {
			return domain.RunStatus{}, err
		}
	case domain.PhaseWaitingApproval:
		proceed, err := c.resumeFromWaiting(ctx, run)
		if err != nil || !proceed {
			return run.Status(), err
		}
	}

	if err := c.executeNextStep(ctx, run); err != nil {
		return domain.RunStatus{}, err
	}
	return run.Status(), nil
}

// Cancel — явная отмена. Принимается в любой нетерминальной фазе, идемпотентна.
// Если шаг сейчас в полете, выставляется флаг: результат агента будет
// выброшен на границе шага, Run уйдет в CANCELLED.
func (c *Core) Cancel(ctx context.Context, runID, reason string) error {
	if reason == "" {
		reason = string(domain.ReasonCancelled)
	}

	release, ok := c.locks.TryLock(runID)
	if !ok {
		// Шаг в полете: кооперативная отмена на ближайшей границе
		c.cancelRequests.Store(runID, reason)
		c.logger.Info("cancellation deferred to step boundary", zap.String("run_id", runID))
		return nil
	}
	defer release()

	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Phase == domain.PhaseCancelled {
		return nil // Повторная отмена — no-op
	}
	if run.Phase.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel %s run %s", domain.ErrRunTerminal, run.Phase, runID)
	}
	return c.finalizeCancelled(ctx, run, reason)
}

// SubmitApproval записывает апрув и сразу пытается разбудить Run.
// Запоздавший апрув по уже отмененному Run записывается, но ничего не
// возобновляет: CANCELLED терминален.
func (c *Core) SubmitApproval(ctx context.Context, sub domain.ApprovalSubmission) (domain.RunStatus, error) {
	run, err := c.runs.GetRun(ctx, sub.RunID)
	if err != nil {
		return domain.RunStatus{}, err
	}

	if _, err := c.approvals.Record(ctx, sub); err != nil {
		return domain.RunStatus{}, err
	}

	if run.Phase.IsTerminal() {
		return run.Status(), nil
	}
	return c.Advance(ctx, sub.RunID)
}

// ResumeAll продолжает все нетерминальные Run после рестарта —
// строго с последнего персистентного шага
func (c *Core) ResumeAll(ctx context.Context) error {
	ids, err := c.runs.ListActiveRuns(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: resume scan failed: %w", err)
	}
	for _, id := range ids {
		if _, err := c.Advance(ctx, id); err != nil {
			c.logger.Error("resume failed", zap.String("run_id", id), zap.Error(err))
		}
	}
	return nil
}

// GetStatus — опрос состояния без продвижения
func (c *Core) GetStatus(ctx context.Context, runID string) (domain.RunStatus, error) {
	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return domain.RunStatus{}, err
	}
	return run.Status(), nil
}

// --- внутреннее ---

func (c *Core) takeCancelRequest(runID string) (string, bool) {
	v, ok := c.cancelRequests.LoadAndDelete(runID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// resumeFromWaiting проверяет апрув для зависшего деструктивного шага.
// true — апрув валиден, можно исполнять шаг (политика проверится в гейте).
func (c *Core) resumeFromWaiting(ctx context.Context, run *domain.Run) (bool, error) {
	// Таймаут ожидания: зависшие Run не живут вечно
	if c.cfg.ApprovalTTL > 0 && !run.WaitingSince.IsZero() &&
		time.Since(run.WaitingSince) > c.cfg.ApprovalTTL {
		if err := c.finalizeCancelled(ctx, run, string(domain.ReasonApprovalTimeout)); err != nil {
			return false, err
		}
		return false, nil
	}

	idx := run.NextPendingStep()
	if idx < 0 {
		return false, fmt.Errorf("orchestrator: run %s waiting with no pending step", run.ID)
	}
	step := &run.Steps[idx]

	rec, err := c.verifyApprovalForStep(ctx, run, step)
	if err != nil {
		var gateErr *domain.GateError
		if errors.As(err, &gateErr) {
			if errors.Is(err, domain.ErrApprovalMissing) {
				c.metrics.ApprovalChecks.WithLabelValues("missing").Inc()
				return false, nil // Продолжаем ждать
			}
			// Невалидный апрув: отклоняем явно, Run остается ждать
			c.metrics.ApprovalChecks.WithLabelValues("invalid").Inc()
			c.emit(ctx, run, step.Index, audit.KindApprovalRejected, "", "", map[string]any{
				"reason": gateErr.Detail,
			})
			return false, nil
		}
		return false, err
	}

	c.metrics.ApprovalChecks.WithLabelValues("verified").Inc()
	c.metrics.WaitingApproval.Dec()
	step.ApprovalID = rec.ID
	run.WaitingSince = time.Time{}
	if err := c.transition(ctx, run, domain.PhaseRunning); err != nil {
		return false, err
	}
	c.emit(ctx, run, step.Index, audit.KindApprovalVerified, "", rec.ID, map[string]any{
		"approver": rec.Approver,
	})
	return true, nil
}

// verifyApprovalForStep сверяет запись апрува с текущим staged-дифом
// по каждому действию, которое требует специалист
func (c *Core) verifyApprovalForStep(ctx context.Context, run *domain.Run, step *domain.RunStep) (*domain.ApprovalRecord, error) {
	spec, err := c.registry.Get(step.Role)
	if err != nil {
		return nil, err
	}

	actions := []domain.ApprovalAction{domain.ActionCommit}
	if ds, ok := spec.(agent.DestructiveSpecialist); ok {
		actions = ds.RequiredActions()
	}

	var rec *domain.ApprovalRecord
	for _, action := range actions {
		rec, err = c.approvals.Verify(ctx, run.ID, run.StagedPatchHash, action)
		if err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// executeNextStep — функция перехода шага: гейты, вызов агента, запись результата
func (c *Core) executeNextStep(ctx context.Context, run *domain.Run) error {
	idx := run.NextPendingStep()
	if idx < 0 {
		return c.finalizeSucceeded(ctx, run)
	}
	step := &run.Steps[idx]

	spec, err := c.registry.Get(step.Role)
	if err != nil {
		return err
	}

	// Гейт 1 (только DESTRUCTIVE): апрув. Отсутствие или невалидность —
	// приостановка в WAITING_APPROVAL, не сбой.
	if step.Class == domain.ClassDestructive && step.ApprovalID == "" {
		rec, err := c.verifyApprovalForStep(ctx, run, step)
		if err != nil {
			var gateErr *domain.GateError
			if errors.As(err, &gateErr) {
				return c.suspendForApproval(ctx, run, step, gateErr)
			}
			return err
		}
		c.metrics.ApprovalChecks.WithLabelValues("verified").Inc()
		step.ApprovalID = rec.ID
		c.emit(ctx, run, step.Index, audit.KindApprovalVerified, "", rec.ID, map[string]any{
			"approver": rec.Approver,
		})
	}

	// Гейт 2 (WRITE и DESTRUCTIVE): политика. Финальное вето — даже при
	// валидном апруве отказ политики блокирует шаг.
	var redactions []string
	if step.Class != domain.ClassRead {
		decision := c.evaluator.Evaluate(run.Tenant, step.Class, run.Target.Descriptor())
		step.DecisionID = decision.ID
		redactions = decision.Redactions
		c.metrics.PolicyDecisions.WithLabelValues(string(decision.ReasonCode)).Inc()
		c.emit(ctx, run, step.Index, audit.KindPolicyChecked, decision.ID, step.ApprovalID, map[string]any{
			"allowed":     decision.Allowed,
			"reason_code": string(decision.ReasonCode),
			"rule_id":     decision.MatchedRuleID,
		})

		if !decision.Allowed {
			return c.failBlocked(ctx, run, step, decision)
		}
	}

	// Фиксируем старт шага ДО вызова агента: после рестарта видно,
	// что шаг мог начать исполняться
	now := time.Now().UTC()
	step.Status = domain.StepRunning
	step.StartedAt = now
	step.InputSummary = map[string]any{
		"target": run.Target.Descriptor(),
		"role":   string(step.Role),
		"class":  string(step.Class),
	}
	if err := c.persist(ctx, run); err != nil {
		return err
	}
	c.emit(ctx, run, step.Index, audit.KindStepStarted, step.DecisionID, step.ApprovalID, nil)

	// Точка приостановки: медленный вызов специалиста.
	// Лок Run держится — конкурентный Advance не исполнит этот же шаг дважды.
	input := c.buildStepInput(run, step)
	output, agentErr := spec.Run(ctx, input, run.Tenant)

	c.metrics.StepDuration.WithLabelValues(string(step.Role), stepOutcome(agentErr)).
		Observe(time.Since(now).Seconds())

	// Граница шага: если за время полета запросили отмену — результат выбрасывается
	if reason, pending := c.takeCancelRequest(run.ID); pending {
		c.logger.Info("discarding in-flight step result: run cancelled",
			zap.String("run_id", run.ID), zap.Int("step", step.Index))
		step.Status = domain.StepPending
		step.StartedAt = time.Time{}
		return c.finalizeCancelled(ctx, run, reason)
	}

	if agentErr != nil {
		return c.failAgentError(ctx, run, step, agentErr)
	}

	step.Status = domain.StepSucceeded
	step.FinishedAt = time.Now().UTC()
	step.OutputSummary = applyRedactions(output.Summary, redactions)

	// Резолвер подготовил диф — стейджим и пересчитываем хэш привязки
	if len(output.Patch) > 0 {
		run.StagedPatch = output.Patch
		run.StagedPatchHash = approval.PatchHash(output.Patch)
	}

	if run.NextPendingStep() < 0 {
		run.Phase = domain.PhaseSucceeded
		run.Result = domain.ResultSuccess
		if err := c.persist(ctx, run); err != nil {
			return err
		}
		c.emit(ctx, run, step.Index, audit.KindStepFinished, step.DecisionID, step.ApprovalID, step.OutputSummary)
		c.emit(ctx, run, -1, audit.KindRunFinished, "", "", map[string]any{"result": string(run.Result)})
		c.logger.Info("run succeeded", zap.String("run_id", run.ID))
		return nil
	}

	if err := c.persist(ctx, run); err != nil {
		return err
	}
	c.emit(ctx, run, step.Index, audit.KindStepFinished, step.DecisionID, step.ApprovalID, step.OutputSummary)
	return nil
}

func (c *Core) buildStepInput(run *domain.Run, step *domain.RunStep) agent.StepInput {
	prior := make([]map[string]any, 0, step.Index)
	for _, s := range run.Steps[:step.Index] {
		prior = append(prior, s.OutputSummary)
	}
	return agent.StepInput{
		RunID:        run.ID,
		StepIndex:    step.Index,
		Target:       run.Target,
		Payload:      run.Payload,
		StagedPatch:  run.StagedPatch,
		PriorOutputs: prior,
	}
}

func (c *Core) suspendForApproval(ctx context.Context, run *domain.Run, step *domain.RunStep, gateErr *domain.GateError) error {
	kind := audit.KindApprovalRequired
	outcome := "missing"
	if errors.Is(gateErr, domain.ErrApprovalInvalid) {
		kind = audit.KindApprovalRejected
		outcome = "invalid"
	}
	c.metrics.ApprovalChecks.WithLabelValues(outcome).Inc()

	run.WaitingSince = time.Now().UTC()
	if err := c.transition(ctx, run, domain.PhaseWaitingApproval); err != nil {
		return err
	}
	c.metrics.WaitingApproval.Inc()
	c.emit(ctx, run, step.Index, kind, "", "", map[string]any{
		"reason_code": string(gateErr.ReasonCode),
		"detail":      gateErr.Detail,
		"patch_hash":  run.StagedPatchHash,
	})

	// Первая приостановка попадает в очередь оператора; повторная
	// (невалидный апрув) заявку не дублирует
	if c.queue != nil && outcome == "missing" {
		req := &domain.ApprovalRequest{
			ID:        uuid.New().String(),
			RunID:     run.ID,
			TenantID:  run.Tenant.TenantID,
			StepIndex: step.Index,
			PatchHash: run.StagedPatchHash,
			Status:    domain.StatusPending,
		}
		if err := c.queue.CreateApprovalRequest(ctx, req); err != nil {
			// Очередь — вспомогательный канал: апрув можно подать и напрямую
			c.logger.Error("failed to enqueue approval request",
				zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	c.logger.Info("run suspended awaiting approval",
		zap.String("run_id", run.ID), zap.Int("step", step.Index), zap.String("outcome", outcome))
	return nil
}

func (c *Core) failBlocked(ctx context.Context, run *domain.Run, step *domain.RunStep, decision domain.PolicyDecision) error {
	step.Status = domain.StepBlocked
	step.FinishedAt = time.Now().UTC()
	run.Phase = domain.PhaseFailed
	run.Result = domain.ResultFailed
	run.FailureCode = string(decision.ReasonCode)
	if err := c.persist(ctx, run); err != nil {
		return err
	}
	c.emit(ctx, run, step.Index, audit.KindStepFinished, decision.ID, step.ApprovalID, map[string]any{
		"status":      string(domain.StepBlocked),
		"reason_code": string(decision.ReasonCode),
	})
	c.emit(ctx, run, -1, audit.KindRunFinished, decision.ID, "", map[string]any{
		"result":       string(run.Result),
		"failure_code": run.FailureCode,
	})
	c.logger.Warn("step blocked by policy",
		zap.String("run_id", run.ID),
		zap.Int("step", step.Index),
		zap.String("reason_code", string(decision.ReasonCode)),
	)
	return nil
}

func (c *Core) failAgentError(ctx context.Context, run *domain.Run, step *domain.RunStep, agentErr error) error {
	step.Status = domain.StepFailed
	step.FinishedAt = time.Now().UTC()
	step.Error = agentErr.Error()
	run.Phase = domain.PhaseFailed
	run.Result = domain.ResultFailed
	run.FailureCode = string(domain.ReasonAgentFailure)
	if err := c.persist(ctx, run); err != nil {
		return err
	}
	// Полный контекст ошибки — в аудит; тенанту наружу уходит только код
	c.emit(ctx, run, step.Index, audit.KindAgentFailed, step.DecisionID, step.ApprovalID, map[string]any{
		"error": agentErr.Error(),
		"role":  string(step.Role),
	})
	c.emit(ctx, run, -1, audit.KindRunFinished, "", "", map[string]any{
		"result":       string(run.Result),
		"failure_code": run.FailureCode,
	})
	c.logger.Error("agent failure",
		zap.String("run_id", run.ID), zap.Int("step", step.Index), zap.Error(agentErr))
	return nil
}

func (c *Core) finalizeCancelled(ctx context.Context, run *domain.Run, reason string) error {
	if run.Phase == domain.PhaseWaitingApproval {
		c.metrics.WaitingApproval.Dec()
	}
	run.Phase = domain.PhaseCancelled
	run.Result = domain.ResultCancelled
	run.FailureCode = reason
	if err := c.persist(ctx, run); err != nil {
		return err
	}
	c.emit(ctx, run, -1, audit.KindRunCancelled, "", "", map[string]any{"reason": reason})
	c.logger.Info("run cancelled", zap.String("run_id", run.ID), zap.String("reason", reason))
	return nil
}

func (c *Core) finalizeSucceeded(ctx context.Context, run *domain.Run) error {
	run.Phase = domain.PhaseSucceeded
	run.Result = domain.ResultSuccess
	if err := c.persist(ctx, run); err != nil {
		return err
	}
	c.emit(ctx, run, -1, audit.KindRunFinished, "", "", map[string]any{"result": string(run.Result)})
	return nil
}

// transition валидирует переход по конечному автомату и персистит его
func (c *Core) transition(ctx context.Context, run *domain.Run, next domain.RunPhase) error {
	if err := domain.ValidatePhaseTransition(run.Phase, next); err != nil {
		return err
	}
	run.Phase = next
	return c.persist(ctx, run)
}

func (c *Core) persist(ctx context.Context, run *domain.Run) error {
	run.UpdatedAt = time.Now().UTC()
	if err := c.runs.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("orchestrator: failed to persist run %s: %w", run.ID, err)
	}
	return nil
}

// emit отправляет событие аудита — fire-and-forget, порядок по шагам
// гарантирует диспетчер
func (c *Core) emit(ctx context.Context, run *domain.Run, stepIndex int, kind audit.EventKind, decisionID, approvalID string, meta map[string]any) {
	event := audit.ForRun(kind, run.ID, stepIndex, run.Tenant)
	event.ID = uuid.New().String()
	event.TraceID = infra.TraceIDFromContext(ctx)
	event.DecisionID = decisionID
	event.ApprovalID = approvalID
	event.Metadata = meta
	c.auditor.Emit(event)
}

func stepOutcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}

func applyRedactions(summary map[string]any, redactions []string) map[string]any {
	if len(redactions) == 0 || summary == nil {
		return summary
	}
	masked := make(map[string]any, len(summary))
	for k, v := range summary {
		masked[k] = v
	}
	for _, field := range redactions {
		if _, ok := masked[field]; ok {
			masked[field] = "[REDACTED]"
		}
	}
	return masked
}
