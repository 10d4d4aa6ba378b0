package domain

import (
	"errors"
	"fmt"
	"time"
)

// RunPhase — статусы State Machine воркфлоу
type RunPhase string

const (
	PhaseCreated         RunPhase = "CREATED"
	PhaseRunning         RunPhase = "RUNNING"
	PhaseWaitingApproval RunPhase = "WAITING_APPROVAL" // Ждет HITL-подтверждения
	PhaseSucceeded       RunPhase = "SUCCEEDED"
	PhaseFailed          RunPhase = "FAILED"
	PhaseCancelled       RunPhase = "CANCELLED"
)

// IsTerminal — после терминальной фазы Run становится неизменяемым
func (p RunPhase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed || p == PhaseCancelled
}

var ErrInvalidPhaseTransition = errors.New("invalid run phase transition")

// ValidatePhaseTransition проверяет правила конечного автомата.
// Любая нетерминальная фаза может уйти в CANCELLED (явная отмена оператора).
func ValidatePhaseTransition(from, to RunPhase) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidPhaseTransition, from)
	}
	if to == PhaseCancelled {
		return nil
	}
	valid := map[RunPhase][]RunPhase{
		PhaseCreated:         {PhaseRunning},
		PhaseRunning:         {PhaseWaitingApproval, PhaseSucceeded, PhaseFailed},
		PhaseWaitingApproval: {PhaseRunning},
	}
	for _, next := range valid[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidPhaseTransition, from, to)
}

// WorkflowType определяет маршрут: какую последовательность специалистов проходит Run
type WorkflowType string

const (
	WorkflowConflictResolution WorkflowType = "conflict-resolution" // TRIAGE -> RESOLVE -> REVIEW -> APPLY
	WorkflowReviewOnly         WorkflowType = "review-only"         // TRIAGE -> REVIEW
)

// AgentRole — роль специалиста внутри пайплайна
type AgentRole string

const (
	RoleTriage  AgentRole = "TRIAGE"
	RoleResolve AgentRole = "RESOLVE"
	RoleReview  AgentRole = "REVIEW"
	RoleApply   AgentRole = "APPLY"
)

// PolicyClass — уровень чувствительности операции (READ/WRITE/DESTRUCTIVE)
type PolicyClass string

const (
	ClassRead        PolicyClass = "READ"
	ClassWrite       PolicyClass = "WRITE"
	ClassDestructive PolicyClass = "DESTRUCTIVE"
)

// StepStatus — статус одного вызова специалиста
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepSucceeded StepStatus = "SUCCEEDED"
	StepFailed    StepStatus = "FAILED"
	StepBlocked   StepStatus = "BLOCKED" // Политика запретила операцию
)

// RunResult — терминальный итог Run
type RunResult string

const (
	ResultSuccess   RunResult = "success"
	ResultFailed    RunResult = "failed"
	ResultCancelled RunResult = "cancelled"
)

// RunStep — один вызов агента внутри Run.
// Инвариант: индексы строго возрастают без пропусков, начиная с 0.
// Шаг с классом != READ не может стать SUCCEEDED без ссылки на PolicyDecision.
type RunStep struct {
	Index         int            `json:"index"`
	Role          AgentRole      `json:"role"`
	Class         PolicyClass    `json:"class"`
	Status        StepStatus     `json:"status"`
	InputSummary  map[string]any `json:"input_summary,omitempty"`
	OutputSummary map[string]any `json:"output_summary,omitempty"`
	DecisionID    string         `json:"decision_id,omitempty"` // Ссылка на PolicyDecision
	ApprovalID    string         `json:"approval_id,omitempty"` // Ссылка на ApprovalRecord (DESTRUCTIVE)
	Error         string         `json:"error,omitempty"`
	StartedAt     time.Time      `json:"started_at,omitzero"`
	FinishedAt    time.Time      `json:"finished_at,omitzero"`
}

// Target описывает объект, над которым работает Run (PR, issue и т.д.)
type Target struct {
	Kind string `json:"kind"` // "pr", "issue", "branch"
	Name string `json:"name"` // например "repo/acme/api#412"
}

// Descriptor — ресурсный дескриптор для матчинга политик, формат "kind/name"
func (t Target) Descriptor() string {
	return t.Kind + "/" + t.Name
}

// Run — одно выполнение воркфлоу для одного тенанта и одной цели.
// Владеет им исключительно оркестратор; каждый переход фазы
// персистится в RunStore ДО того, как считается зафиксированным.
type Run struct {
	ID           string        `json:"id"`
	Tenant       TenantContext `json:"tenant"`
	WorkflowType WorkflowType  `json:"workflow_type"`
	Target       Target        `json:"target"`
	Phase        RunPhase      `json:"phase"`
	Steps        []RunStep     `json:"steps"`
	Payload      []byte        `json:"payload,omitempty"` // Нормализованный входной запрос

	// StagedPatch — диф, подготовленный резолвером и ожидающий применения.
	// Именно его хэш сверяется с ApprovalRecord.PatchHash.
	StagedPatch     []byte `json:"staged_patch,omitempty"`
	StagedPatchHash string `json:"staged_patch_hash,omitempty"`

	Result       RunResult `json:"result,omitempty"`
	FailureCode  string    `json:"failure_code,omitempty"` // ReasonCode при FAILED/CANCELLED
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	WaitingSince time.Time `json:"waiting_since,omitzero"` // Начало ожидания апрува (для TTL)
}

// NextPendingStep возвращает первый незавершенный шаг (или -1)
func (r *Run) NextPendingStep() int {
	for i := range r.Steps {
		switch r.Steps[i].Status {
		case StepPending, StepRunning:
			return i
		}
	}
	return -1
}

// RunStatus — то, что видят внешние вызыватели при опросе Run.
// Никаких стектрейсов: только фаза, итог и код причины.
type RunStatus struct {
	RunID       string    `json:"run_id"`
	Phase       RunPhase  `json:"phase"`
	Result      RunResult `json:"result,omitempty"`
	FailureCode string    `json:"failure_code,omitempty"`
	StepsTotal  int       `json:"steps_total"`
	StepsDone   int       `json:"steps_done"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Status собирает внешнее представление текущего состояния
func (r *Run) Status() RunStatus {
	done := 0
	for _, s := range r.Steps {
		if s.Status == StepSucceeded {
			done++
		}
	}
	return RunStatus{
		RunID:       r.ID,
		Phase:       r.Phase,
		Result:      r.Result,
		FailureCode: r.FailureCode,
		StepsTotal:  len(r.Steps),
		StepsDone:   done,
		UpdatedAt:   r.UpdatedAt,
	}
}
