package domain

import (
	"errors"
	"time"
)

// ApprovalAction — действие, которое апрув разрешает выполнить
type ApprovalAction string

const (
	ActionCommit     ApprovalAction = "commit"
	ActionPush       ApprovalAction = "push"
	ActionOpenChange ApprovalAction = "open-change"
	ActionMerge      ApprovalAction = "merge"
)

// ParseApprovalAction валидирует действие, пришедшее извне
func ParseApprovalAction(raw string) (ApprovalAction, error) {
	a := ApprovalAction(raw)
	switch a {
	case ActionCommit, ActionPush, ActionOpenChange, ActionMerge:
		return a, nil
	default:
		return "", errors.New("unknown approval action: " + raw)
	}
}

// ApprovalRecord — свидетельство того, что человек или уполномоченный сервис
// подписал конкретное деструктивное изменение. Привязка к контенту — через
// PatchHash: хэш точного байтового содержимого дифа. Апрув никогда не
// распространяется на другой контент, даже в рамках того же Run.
type ApprovalRecord struct {
	ID        string           `json:"id"`
	RunID     string           `json:"run_id"`
	Approver  string           `json:"approver"`
	Scope     []ApprovalAction `json:"scope"`
	PatchHash string           `json:"patch_hash"`
	Comment   string           `json:"comment,omitempty"`
	GrantedAt time.Time        `json:"granted_at"`
}

// Authorizes проверяет, покрывает ли scope требуемое действие.
// Scope {commit} не дает права на push.
func (r *ApprovalRecord) Authorizes(action ApprovalAction) bool {
	for _, a := range r.Scope {
		if a == action {
			return true
		}
	}
	return false
}

// ApprovalSubmission — нормализованная заявка апрува от внешнего слоя
type ApprovalSubmission struct {
	RunID     string           `json:"run_id"`
	Approver  string           `json:"approver"`
	Scope     []ApprovalAction `json:"scope"`
	PatchHash string           `json:"patch_hash"`
	Comment   string           `json:"comment,omitempty"`
}

// Validate отбраковывает неполные заявки до обращения к хранилищу
func (s ApprovalSubmission) Validate() error {
	if s.RunID == "" {
		return errors.New("approval: run_id is required")
	}
	if s.Approver == "" {
		return errors.New("approval: approver is required")
	}
	if len(s.Scope) == 0 {
		return errors.New("approval: scope must not be empty")
	}
	if s.PatchHash == "" {
		return errors.New("approval: patch_hash is required")
	}
	return nil
}

// Статусы State Machine очереди HITL-решений (Console API)
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusRejected ApprovalStatus = "REJECTED"
)

var (
	ErrInvalidTransition = errors.New("invalid approval status transition")
	ErrAlreadyProcessed  = errors.New("approval request already processed")
)

// ApprovalRequest — заявка в очереди оператора: Run завис в WAITING_APPROVAL
// и ждет решения человека через Console API.
type ApprovalRequest struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	TenantID  string         `json:"tenant_id"`
	StepIndex int            `json:"step_index"`
	PatchHash string         `json:"patch_hash"` // Хэш дифа на момент постановки в очередь
	Status    ApprovalStatus `json:"status"`

	ReviewerID *string `json:"reviewer_id,omitempty"`
	Comment    *string `json:"comment,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo проверяет правила конечного автомата заявки
func (a *ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	if next == StatusPending {
		return ErrInvalidTransition
	}
	return nil
}
