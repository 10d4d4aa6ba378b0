package policy

import (
	"testing"

	"github.com/xela07ax/devflow-orchestrator/internal/domain"
)

type staticSource struct {
	docs map[string]*domain.PolicyDocument
}

func (s *staticSource) GetDocument(tenantID string) *domain.PolicyDocument {
	return s.docs[tenantID]
}

func testContext(tenantID string) domain.TenantContext {
	return domain.TenantContext{
		TenantID: tenantID,
		Actor:    domain.ActorContext{Type: domain.ActorHuman, ID: "user-1"},
		Channel:  domain.ChannelAPI,
	}
}

func TestEvaluateSystemDefaults(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&staticSource{docs: map[string]*domain.PolicyDocument{}})
	tc := testContext("acme")

	tests := []struct {
		name       string
		class      domain.PolicyClass
		wantAllow  bool
		wantReason domain.ReasonCode
	}{
		{"read allowed by default", domain.ClassRead, true, domain.ReasonAllowReadDefault},
		{"write denied by default", domain.ClassWrite, false, domain.ReasonDenyNoPolicyMatch},
		{"destructive denied by default", domain.ClassDestructive, false, domain.ReasonDenyNoPolicyMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := engine.Evaluate(tc, tt.class, "repo/payments")
			if d.Allowed != tt.wantAllow {
				t.Fatalf("Allowed = %v, want %v", d.Allowed, tt.wantAllow)
			}
			if d.ReasonCode != tt.wantReason {
				t.Fatalf("ReasonCode = %s, want %s", d.ReasonCode, tt.wantReason)
			}
			if d.ID == "" || d.Reason == "" {
				t.Fatal("decision must carry id and human readable reason")
			}
		})
	}
}

func TestEvaluatePriorityOrdering(t *testing.T) {
	t.Parallel()

	doc := &domain.PolicyDocument{
		TenantID: "acme",
		Defaults: map[domain.PolicyClass]domain.PolicyEffect{
			domain.ClassRead:        domain.EffectAllow,
			domain.ClassWrite:       domain.EffectDeny,
			domain.ClassDestructive: domain.EffectDeny,
		},
		Rules: []domain.PolicyRule{
			{
				ID:       "allow-all-writes",
				Priority: 10,
				Match:    domain.RuleMatch{Classes: []domain.PolicyClass{domain.ClassWrite}},
				Effect:   domain.EffectAllow,
			},
			{
				ID:       "deny-payments",
				Priority: 100,
				Match: domain.RuleMatch{
					Classes:         []domain.PolicyClass{domain.ClassWrite},
					ResourcePattern: "repo/payments",
				},
				Effect: domain.EffectDeny,
			},
		},
	}
	engine := NewEngine(&staticSource{docs: map[string]*domain.PolicyDocument{"acme": doc}})
	tc := testContext("acme")

	got := engine.Evaluate(tc, domain.ClassWrite, "repo/payments")
	if got.Allowed {
		t.Fatal("high priority deny rule must win over low priority allow")
	}
	if got.MatchedRuleID != "deny-payments" {
		t.Fatalf("MatchedRuleID = %s, want deny-payments", got.MatchedRuleID)
	}

	got = engine.Evaluate(tc, domain.ClassWrite, "repo/docs")
	if !got.Allowed || got.MatchedRuleID != "allow-all-writes" {
		t.Fatalf("expected allow-all-writes to match, got %+v", got)
	}
}

func TestEvaluateGlobMatching(t *testing.T) {
	t.Parallel()

	doc := &domain.PolicyDocument{
		TenantID: "acme",
		Defaults: map[domain.PolicyClass]domain.PolicyEffect{
			domain.ClassRead:        domain.EffectAllow,
			domain.ClassWrite:       domain.EffectDeny,
			domain.ClassDestructive: domain.EffectDeny,
		},
		Rules: []domain.PolicyRule{
			{
				ID:       "allow-repo-writes",
				Priority: 1,
				Match: domain.RuleMatch{
					Classes:         []domain.PolicyClass{domain.ClassWrite},
					ResourcePattern: "repo/*",
				},
				Effect: domain.EffectAllow,
			},
		},
	}
	engine := NewEngine(&staticSource{docs: map[string]*domain.PolicyDocument{"acme": doc}})
	tc := testContext("acme")

	if d := engine.Evaluate(tc, domain.ClassWrite, "repo/payments"); !d.Allowed {
		t.Fatalf("repo/payments must match repo/*: %+v", d)
	}
	if d := engine.Evaluate(tc, domain.ClassWrite, "pr/42"); d.Allowed {
		t.Fatalf("pr/42 must not match repo/*: %+v", d)
	}
}

func TestEvaluateActorAndChannelFilters(t *testing.T) {
	t.Parallel()

	doc := &domain.PolicyDocument{
		TenantID: "acme",
		Defaults: map[domain.PolicyClass]domain.PolicyEffect{
			domain.ClassRead:        domain.EffectAllow,
			domain.ClassWrite:       domain.EffectDeny,
			domain.ClassDestructive: domain.EffectDeny,
		},
		Rules: []domain.PolicyRule{
			{
				ID:       "humans-via-web-only",
				Priority: 1,
				Match: domain.RuleMatch{
					Classes:    []domain.PolicyClass{domain.ClassWrite},
					ActorTypes: []domain.ActorType{domain.ActorHuman},
					Channels:   []domain.SourceChannel{domain.ChannelWeb},
				},
				Effect: domain.EffectAllow,
			},
		},
	}
	engine := NewEngine(&staticSource{docs: map[string]*domain.PolicyDocument{"acme": doc}})

	webHuman := domain.TenantContext{
		TenantID: "acme",
		Actor:    domain.ActorContext{Type: domain.ActorHuman, ID: "u1"},
		Channel:  domain.ChannelWeb,
	}
	if d := engine.Evaluate(webHuman, domain.ClassWrite, "repo/x"); !d.Allowed {
		t.Fatalf("human via web must be allowed: %+v", d)
	}

	webhookBot := domain.TenantContext{
		TenantID: "acme",
		Actor:    domain.ActorContext{Type: domain.ActorAutomation, ID: "bot"},
		Channel:  domain.ChannelWebhook,
	}
	if d := engine.Evaluate(webhookBot, domain.ClassWrite, "repo/x"); d.Allowed {
		t.Fatalf("automation via webhook must fall through to deny: %+v", d)
	}
}

func TestEvaluateInvalidDocumentFailsClosed(t *testing.T) {
	t.Parallel()

	broken := &domain.PolicyDocument{
		TenantID: "acme",
		Defaults: map[domain.PolicyClass]domain.PolicyEffect{
			domain.ClassRead: "MAYBE",
		},
	}
	engine := NewEngine(&staticSource{docs: map[string]*domain.PolicyDocument{"acme": broken}})

	// Даже READ запрещается на битом документе
	d := engine.Evaluate(testContext("acme"), domain.ClassRead, "repo/x")
	if d.Allowed {
		t.Fatal("invalid document must never produce allow")
	}
	if d.ReasonCode != domain.ReasonDenyConfigInvalid {
		t.Fatalf("ReasonCode = %s, want %s", d.ReasonCode, domain.ReasonDenyConfigInvalid)
	}
}

func TestValidateDocument(t *testing.T) {
	t.Parallel()

	valid := domain.DefaultPolicyDocument()
	if err := ValidateDocument(valid); err != nil {
		t.Fatalf("default document must be valid: %v", err)
	}

	tests := []struct {
		name string
		doc  *domain.PolicyDocument
	}{
		{"nil document", nil},
		{"no defaults", &domain.PolicyDocument{TenantID: "t"}},
		{
			"duplicate rule ids",
			&domain.PolicyDocument{
				TenantID: "t",
				Defaults: valid.Defaults,
				Rules: []domain.PolicyRule{
					{ID: "r1", Effect: domain.EffectAllow},
					{ID: "r1", Effect: domain.EffectDeny},
				},
			},
		},
		{
			"rule with unknown effect",
			&domain.PolicyDocument{
				TenantID: "t",
				Defaults: valid.Defaults,
				Rules:    []domain.PolicyRule{{ID: "r1", Effect: "WHATEVER"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := ValidateDocument(tt.doc); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestEvaluateRedactionsPropagated(t *testing.T) {
	t.Parallel()

	doc := &domain.PolicyDocument{
		TenantID: "acme",
		Defaults: map[domain.PolicyClass]domain.PolicyEffect{
			domain.ClassRead:        domain.EffectAllow,
			domain.ClassWrite:       domain.EffectDeny,
			domain.ClassDestructive: domain.EffectDeny,
		},
		Rules: []domain.PolicyRule{
			{
				ID:         "allow-with-redactions",
				Priority:   1,
				Match:      domain.RuleMatch{Classes: []domain.PolicyClass{domain.ClassWrite}},
				Effect:     domain.EffectAllow,
				Redactions: []string{"api_token", "db_password"},
			},
		},
	}
	engine := NewEngine(&staticSource{docs: map[string]*domain.PolicyDocument{"acme": doc}})

	d := engine.Evaluate(testContext("acme"), domain.ClassWrite, "repo/x")
	if !d.Allowed {
		t.Fatalf("expected allow: %+v", d)
	}
	if len(d.Redactions) != 2 {
		t.Fatalf("Redactions = %v, want two entries", d.Redactions)
	}
}
