package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок гейтирования. Все коды причин берутся из того же
// перечисления ReasonCode, что и решения политик — наружу уходит только код.
var (
	// ErrPolicyDenied — политика запретила операцию. Run помечается FAILED,
	// шаг — BLOCKED. Никогда не ретраится молча.
	ErrPolicyDenied = errors.New("policy denied")

	// ErrApprovalMissing — деструктивный шаг без апрува. Это НЕ сбой:
	// Run приостанавливается в WAITING_APPROVAL и ждет внешнего решения.
	ErrApprovalMissing = errors.New("approval missing")

	// ErrApprovalInvalid — хэш не совпал или scope недостаточен.
	// Апрув отклоняется явно, Run остается в WAITING_APPROVAL.
	ErrApprovalInvalid = errors.New("approval invalid")

	// ErrAgentFailure — специалист упал с невосстановимой ошибкой.
	// Оркестратор не ретраит: ретраи — свойство специалиста, не оркестратора.
	ErrAgentFailure = errors.New("agent failure")

	// ErrConfigInvalid — битый документ политик. Fail-closed: трактуется
	// как запрет, никогда как разрешение.
	ErrConfigInvalid = errors.New("policy configuration invalid")

	ErrRunNotFound      = errors.New("run not found")
	ErrRunTerminal      = errors.New("run already in terminal phase")
	ErrApprovalNotFound = errors.New("approval not found")
)

// GateError связывает ошибку гейта с кодом причины для аудита и статуса Run
type GateError struct {
	Err        error
	ReasonCode ReasonCode
	Detail     string
}

func (e *GateError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (%s)", e.Err, e.ReasonCode)
	}
	return fmt.Sprintf("%v (%s): %s", e.Err, e.ReasonCode, e.Detail)
}

func (e *GateError) Unwrap() error { return e.Err }

// NewGateError — конструктор для единообразия кодов в оркестраторе
func NewGateError(err error, code ReasonCode, detail string) *GateError {
	return &GateError{Err: err, ReasonCode: code, Detail: detail}
}
