package audit

import (
	"time"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

// EventKind — вид точки принятия решения
type EventKind string

const (
	KindRunCreated       EventKind = "run-created"
	KindStepStarted      EventKind = "step-started"
	KindPolicyChecked    EventKind = "policy-checked"
	KindApprovalRequired EventKind = "approval-required"
	KindApprovalVerified EventKind = "approval-verified"
	KindApprovalRejected EventKind = "approval-rejected"
	KindStepFinished     EventKind = "step-finished"
	KindAgentFailed      EventKind = "agent-failed"
	KindRunFinished      EventKind = "run-finished"
	KindRunCancelled     EventKind = "run-cancelled"
)

// Event — неизменяемая запись одной точки принятия решения.
// Append-only: ядро никогда не обновляет и не удаляет события
// (ретеншн и редактирование — забота внешних коллабораторов).
type Event struct {
	ID        string `json:"id"`       // UUID события
	TraceID   string `json:"trace_id"` // Сквозной ID запроса
	RunID     string `json:"run_id"`
	StepIndex int    `json:"step_index"` // -1, если событие уровня Run
	TenantID  string `json:"tenant_id"`  // Кто владеет
	ActorID   string `json:"actor_id"`   // Кто делал

	Kind       EventKind `json:"kind"`
	DecisionID string    `json:"decision_id,omitempty"` // Ссылка на PolicyDecision
	ApprovalID string    `json:"approval_id,omitempty"` // Ссылка на ApprovalRecord

	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ForRun — конструктор, гарантирующий атрибуцию ровно одному TenantContext
func ForRun(kind EventKind, runID string, stepIndex int, tc domain.TenantContext) Event {
	return Event{
		RunID:     runID,
		StepIndex: stepIndex,
		TenantID:  tc.TenantID,
		ActorID:   tc.Actor.ID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}
