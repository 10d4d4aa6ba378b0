package agent

import (
	"context"
	"fmt"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

// StepInput — вход одного вызова специалиста
type StepInput struct {
	RunID        string
	StepIndex    int
	Target       domain.Target
	Payload      []byte           // Нормализованный запрос из Run
	StagedPatch  []byte           // Диф, подготовленный предыдущими шагами
	PriorOutputs []map[string]any // Сводки предыдущих шагов по порядку
}

// StepOutput — результат вызова специалиста
type StepOutput struct {
	Summary map[string]any
	// Patch заполняет только резолвер: оркестратор стейджит его на Run
	// и пересчитывает staged_patch_hash
	Patch []byte
}

// Specialist — единый контракт каждого агента пайплайна.
// Оркестратор полиморфен над этой способностью и не содержит
// специфичной логики ролей: новый специалист добавляется регистрацией
// реализации и расширением таблицы маршрутизации, не правкой оркестратора.
type Specialist interface {
	Role() domain.AgentRole
	Class() domain.PolicyClass
	Run(ctx context.Context, input StepInput, tc domain.TenantContext) (StepOutput, error)
}

// DestructiveSpecialist дополнительно объявляет действия, которые должен
// покрывать scope апрува (commit/push/...). Проверяется только для
// шагов класса DESTRUCTIVE.
type DestructiveSpecialist interface {
	Specialist
	RequiredActions() []domain.ApprovalAction
}

// Registry — таблица маршрутизации: тип воркфлоу -> упорядоченный список ролей
// плюс реестр реализаций по ролям.
type Registry struct {
	specialists map[domain.AgentRole]Specialist
	routes      map[domain.WorkflowType][]domain.AgentRole
}

func NewRegistry() *Registry {
	return &Registry{
		specialists: make(map[domain.AgentRole]Specialist),
		routes:      make(map[domain.WorkflowType][]domain.AgentRole),
	}
}

// Register добавляет реализацию специалиста (последняя регистрация побеждает)
func (r *Registry) Register(s Specialist) {
	r.specialists[s.Role()] = s
}

// SetRoute задает маршрут для типа воркфлоу
func (r *Registry) SetRoute(wf domain.WorkflowType, roles ...domain.AgentRole) {
	r.routes[wf] = roles
}

// Route возвращает упорядоченный список ролей для воркфлоу
func (r *Registry) Route(wf domain.WorkflowType) ([]domain.AgentRole, error) {
	roles, ok := r.routes[wf]
	if !ok || len(roles) == 0 {
		return nil, fmt.Errorf("no route configured for workflow %q", wf)
	}
	return roles, nil
}

// Get возвращает реализацию для роли
func (r *Registry) Get(role domain.AgentRole) (Specialist, error) {
	s, ok := r.specialists[role]
	if !ok {
		return nil, fmt.Errorf("no specialist registered for role %q", role)
	}
	return s, nil
}

// DefaultRegistry собирает штатный набор специалистов и маршрутов
func DefaultRegistry(inv ModelInvoker) *Registry {
	r := NewRegistry()
	r.Register(NewTriage(inv))
	r.Register(NewResolver(inv))
	r.Register(NewReviewer(inv))
	r.Register(NewApplier(inv))
	r.SetRoute(domain.WorkflowConflictResolution,
		domain.RoleTriage, domain.RoleResolve, domain.RoleReview, domain.RoleApply)
	r.SetRoute(domain.WorkflowReviewOnly,
		domain.RoleTriage, domain.RoleReview)
	return r
}
