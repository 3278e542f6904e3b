package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8080 {
		t.Fatalf("unexpected default port %d", cfg.Server.Port)
	}
	if cfg.Recruitment.CooldownDays != 30 {
		t.Fatalf("unexpected default cooldown days %d", cfg.Recruitment.CooldownDays)
	}
	if cfg.Orchestrator.PollInterval() != 5*time.Second {
		t.Fatalf("unexpected poll interval %v", cfg.Orchestrator.PollInterval())
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected default allowed origins %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9999
recruitment:
  cooldown_days: 14
orchestrator:
  max_attempts: 7
  sweep_schedule: "@every 5m"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Recruitment.CooldownDays != 14 {
		t.Fatalf("expected cooldown 14, got %d", cfg.Recruitment.CooldownDays)
	}
	if cfg.Orchestrator.MaxAttempts != 7 {
		t.Fatalf("expected max attempts 7, got %d", cfg.Orchestrator.MaxAttempts)
	}
	// Unset fields keep their defaults.
	if cfg.Database.MaxOpenConns != 25 {
		t.Fatalf("expected default max open conns, got %d", cfg.Database.MaxOpenConns)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://qm:qm@localhost/qm")
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("COOLDOWN_DAYS", "45")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "postgres://qm:qm@localhost/qm" {
		t.Fatalf("expected env DSN, got %q", cfg.Database.DSN)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port, got %d", cfg.Server.Port)
	}
	if cfg.Recruitment.CooldownDays != 45 {
		t.Fatalf("expected env cooldown days, got %d", cfg.Recruitment.CooldownDays)
	}
}

func TestValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("recruitment:\n  cooldown_days: -1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected validation error for negative cooldown")
	}
}
