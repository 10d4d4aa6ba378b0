package domain

import (
	"path"
	"time"
)

// PolicyEffect определяет, что делать с операцией
type PolicyEffect string

const (
	EffectAllow PolicyEffect = "ALLOW"
	EffectDeny  PolicyEffect = "DENY"
)

// ReasonCode — закрытое перечисление причин решения.
// Эти же коды видят тенанты при опросе статуса Run (никаких внутренних ошибок наружу).
type ReasonCode string

const (
	ReasonAllowReadDefault          ReasonCode = "allow-read-default"
	ReasonAllowRuleMatch            ReasonCode = "allow-rule-match"
	ReasonDenyRuleMatch             ReasonCode = "deny-rule-match"
	ReasonDenyNoPolicyMatch         ReasonCode = "deny-no-policy-match"
	ReasonDenyDestructiveNoApproval ReasonCode = "deny-destructive-no-approval"
	ReasonDenyConfigInvalid         ReasonCode = "deny-config-invalid"
	ReasonApprovalTimeout           ReasonCode = "approval-timeout"
	ReasonApprovalRejected          ReasonCode = "approval-rejected"
	ReasonAgentFailure              ReasonCode = "agent-failure"
	ReasonCancelled                 ReasonCode = "cancelled-by-request"
)

// RuleMatch — предикат правила. Пустое поле означает «любое значение».
type RuleMatch struct {
	Classes         []PolicyClass   `json:"classes,omitempty" yaml:"classes"`
	ActorTypes      []ActorType     `json:"actor_types,omitempty" yaml:"actor_types"`
	Channels        []SourceChannel `json:"channels,omitempty" yaml:"channels"`
	ResourcePattern string          `json:"resource_pattern,omitempty" yaml:"resource_pattern"` // glob, например "pr/*"
}

// Matches проверяет предикат против контекста запроса
func (m RuleMatch) Matches(tc TenantContext, class PolicyClass, resource string) bool {
	if len(m.Classes) > 0 && !containsVal(m.Classes, class) {
		return false
	}
	if len(m.ActorTypes) > 0 && !containsVal(m.ActorTypes, tc.Actor.Type) {
		return false
	}
	if len(m.Channels) > 0 && !containsVal(m.Channels, tc.Channel) {
		return false
	}
	if m.ResourcePattern != "" {
		ok, err := path.Match(m.ResourcePattern, resource)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func containsVal[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// PolicyRule — правило уровня тенанта или системы
type PolicyRule struct {
	ID         string       `json:"id" yaml:"id"`
	Priority   int          `json:"priority" yaml:"priority"` // Выше — раньше
	Match      RuleMatch    `json:"match" yaml:"match"`
	Effect     PolicyEffect `json:"effect" yaml:"effect"`
	ReasonCode ReasonCode   `json:"reason_code,omitempty" yaml:"reason_code"`
	// Redactions — поля, которые нужно замаскировать в output summary шага
	Redactions []string `json:"redactions,omitempty" yaml:"redactions"`
}

// PolicyDocument — набор правил одного тенанта.
// Отсутствие документа у тенанта означает системный дефолт (fail-closed).
type PolicyDocument struct {
	TenantID  string                       `json:"tenant_id" yaml:"tenant_id"`
	Version   string                       `json:"version" yaml:"version"`
	Defaults  map[PolicyClass]PolicyEffect `json:"defaults" yaml:"defaults"`
	Rules     []PolicyRule                 `json:"rules" yaml:"rules"`
	UpdatedAt time.Time                    `json:"updated_at" yaml:"-"`
}

// DefaultPolicyDocument — системный дефолт: READ разрешен, WRITE и DESTRUCTIVE запрещены
func DefaultPolicyDocument() *PolicyDocument {
	return &PolicyDocument{
		TenantID: "*",
		Version:  "system-default",
		Defaults: map[PolicyClass]PolicyEffect{
			ClassRead:        EffectAllow,
			ClassWrite:       EffectDeny,
			ClassDestructive: EffectDeny,
		},
	}
}

// PolicyDecision — результат оценки ровно одной операции.
// Создается заново для каждого гейтируемого шага и никогда не мутируется;
// шаг и событие аудита ссылаются на него по ID.
type PolicyDecision struct {
	ID            string     `json:"id"`
	Allowed       bool       `json:"allowed"`
	ReasonCode    ReasonCode `json:"reason_code"`
	Reason        string     `json:"reason"`
	MatchedRuleID string     `json:"matched_rule_id,omitempty"`
	Redactions    []string   `json:"redactions,omitempty"`
	EvaluatedAt   time.Time  `json:"evaluated_at"`
}
