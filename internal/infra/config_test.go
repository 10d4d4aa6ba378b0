package infra

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	// Файла config.yaml рядом с тестом нет: работаем на дефолтах
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("server.read_timeout = %v, want 5s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.MaxConns != 15 || cfg.Database.MinConns != 5 {
		t.Errorf("database conns = %d/%d, want 15/5", cfg.Database.MaxConns, cfg.Database.MinConns)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("logger.level = %q, want info", cfg.Logger.Level)
	}
	if cfg.Orchestrator.ApprovalTTL != 24*time.Hour {
		t.Errorf("orchestrator.approval_ttl = %v, want 24h", cfg.Orchestrator.ApprovalTTL)
	}
	if cfg.Orchestrator.AuditBufferSize != 1000 {
		t.Errorf("orchestrator.audit_buffer_size = %d, want 1000", cfg.Orchestrator.AuditBufferSize)
	}
	if cfg.Orchestrator.AuditBatchSize != 50 {
		t.Errorf("orchestrator.audit_batch_size = %d, want 50", cfg.Orchestrator.AuditBatchSize)
	}
	if cfg.Orchestrator.RateLimit != 10.0 {
		t.Errorf("orchestrator.rate_limit = %v, want 10.0", cfg.Orchestrator.RateLimit)
	}
	if cfg.Orchestrator.CallTimeout != 30*time.Second {
		t.Errorf("orchestrator.call_timeout = %v, want 30s", cfg.Orchestrator.CallTimeout)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("LOGGER_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("server.port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("logger.level = %q, want env override debug", cfg.Logger.Level)
	}
}

func TestLoadKeyResourceFromEnv(t *testing.T) {
	const pem = "-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----"
	t.Setenv("AUTH_PUBLIC_KEY_DATA", pem)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if string(cfg.Auth.PublicKey) != pem {
		t.Errorf("auth public key not taken from ENV, got %q", cfg.Auth.PublicKey)
	}
}

func TestLoadKeyResourceFromFile(t *testing.T) {
	path := t.TempDir() + "/key.pem"
	if err := os.WriteFile(path, []byte("pem-bytes"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	if got := loadKeyResource(path, "NO_SUCH_ENV_KEY"); string(got) != "pem-bytes" {
		t.Errorf("loadKeyResource = %q, want file contents", got)
	}
	if got := loadKeyResource("/does/not/exist.pem", "NO_SUCH_ENV_KEY"); got != nil {
		t.Errorf("missing file must yield nil, got %q", got)
	}
}
