package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

// Evaluator — контракт движка политик для оркестратора.
// Экземпляр передается явно через конструктор (никаких глобальных синглтонов):
// это дает изоляцию per-test и per-tenant без разделяемого мутабельного состояния.
type Evaluator interface {
	Evaluate(tc domain.TenantContext, class domain.PolicyClass, resource string) domain.PolicyDecision
}

// DocumentSource отдает документ политик тенанта (nil, если не настроен)
type DocumentSource interface {
	GetDocument(tenantID string) *domain.PolicyDocument
}

// Engine — чистая функция от (контекст, класс, ресурс) к решению.
// Никаких побочных эффектов; для одинаковых входов результат детерминирован
// (это условие для golden/replay тестирования).
type Engine struct {
	source   DocumentSource
	fallback *domain.PolicyDocument // Системный дефолт (fail-closed)
}

func NewEngine(source DocumentSource) *Engine {
	return &Engine{
		source:   source,
		fallback: domain.DefaultPolicyDocument(),
	}
}

// Evaluate реализует алгоритм из одного прохода:
//  1. Резолвим документ тенанта (или системный дефолт).
//  2. Правила сортируются по приоритету по убыванию (stable).
//  3. Первое совпавшее правило определяет решение.
//  4. Нет совпадений — дефолтный эффект класса с кодом «no rule matched».
func (e *Engine) Evaluate(tc domain.TenantContext, class domain.PolicyClass, resource string) domain.PolicyDecision {
	doc := e.fallback
	if e.source != nil {
		if d := e.source.GetDocument(tc.TenantID); d != nil {
			doc = d
		}
	}

	if err := ValidateDocument(doc); err != nil {
		// Битая конфигурация трактуется как запрет, никогда как разрешение
		return newDecision(false, domain.ReasonDenyConfigInvalid,
			fmt.Sprintf("policy document rejected: %v", err), "", nil)
	}

	// Копируем, чтобы сортировка не трогала разделяемый документ
	rules := make([]domain.PolicyRule, len(doc.Rules))
	copy(rules, doc.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	for _, rule := range rules {
		if !rule.Match.Matches(tc, class, resource) {
			continue
		}
		allowed := rule.Effect == domain.EffectAllow
		code := rule.ReasonCode
		if code == "" {
			if allowed {
				code = domain.ReasonAllowRuleMatch
			} else {
				code = domain.ReasonDenyRuleMatch
			}
		}
		return newDecision(allowed, code,
			fmt.Sprintf("rule %s matched for %s on %s", rule.ID, class, resource),
			rule.ID, rule.Redactions)
	}

	// Фолбэк: дефолтный эффект для класса
	effect, ok := doc.Defaults[class]
	if !ok {
		effect = domain.EffectDeny
	}
	if effect == domain.EffectAllow {
		return newDecision(true, domain.ReasonAllowReadDefault,
			fmt.Sprintf("no rule matched, default %s for %s applied", effect, class), "", nil)
	}
	return newDecision(false, domain.ReasonDenyNoPolicyMatch,
		fmt.Sprintf("no rule matched, default %s for %s applied", effect, class), "", nil)
}

func newDecision(allowed bool, code domain.ReasonCode, reason, ruleID string, redactions []string) domain.PolicyDecision {
	return domain.PolicyDecision{
		ID:            uuid.New().String(),
		Allowed:       allowed,
		ReasonCode:    code,
		Reason:        reason,
		MatchedRuleID: ruleID,
		Redactions:    redactions,
		EvaluatedAt:   time.Now().UTC(),
	}
}

// ValidateDocument отбраковывает документы, с которыми нельзя безопасно работать
func ValidateDocument(doc *domain.PolicyDocument) error {
	if doc == nil {
		return fmt.Errorf("document is nil")
	}
	if len(doc.Defaults) == 0 {
		return fmt.Errorf("document %q has no defaults", doc.TenantID)
	}
	for class, effect := range doc.Defaults {
		switch class {
		case domain.ClassRead, domain.ClassWrite, domain.ClassDestructive:
		default:
			return fmt.Errorf("unknown policy class %q in defaults", class)
		}
		if effect != domain.EffectAllow && effect != domain.EffectDeny {
			return fmt.Errorf("unknown effect %q for class %s", effect, class)
		}
	}
	seen := make(map[string]struct{}, len(doc.Rules))
	for _, r := range doc.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule without id in document %q", doc.TenantID)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.Effect != domain.EffectAllow && r.Effect != domain.EffectDeny {
			return fmt.Errorf("rule %q has unknown effect %q", r.ID, r.Effect)
		}
	}
	return nil
}
