package config

import (
	"os"
	"path/filepath"
	"testing"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("WEB_PORT", "")
	t.Setenv("WITHDRAWAL_MIN_AMOUNT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ServerConfig.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.ServerConfig.Port)
	}
	if cfg.DatabaseConfig.Host != "localhost" {
		t.Errorf("default db host = %q, want localhost", cfg.DatabaseConfig.Host)
	}
	if cfg.WithdrawalConfig.MinAmount != 10.0 {
		t.Errorf("default min withdrawal = %v, want 10", cfg.WithdrawalConfig.MinAmount)
	}
	if !cfg.ReconciliationConfig.Enabled {
		t.Error("reconciliation should default to enabled")
	}
}

func TestLoadKeepsConfigFileValues(t *testing.T) {
	dir := t.TempDir()
	body := `{
		"server": {"port": 9000, "production_mode": true},
		"withdrawal": {"min_amount": 25},
		"reconciliation": {"batch_size": 50}
	}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	chdir(t, dir)
	t.Setenv("WEB_PORT", "")
	t.Setenv("PRODUCTION_MODE", "")
	t.Setenv("WITHDRAWAL_MIN_AMOUNT", "")
	t.Setenv("RECONCILIATION_BATCH_SIZE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ServerConfig.Port != 9000 {
		t.Errorf("file port = %d, want 9000", cfg.ServerConfig.Port)
	}
	if !cfg.ServerConfig.ProductionMode {
		t.Error("file production_mode=true was lost")
	}
	if cfg.WithdrawalConfig.MinAmount != 25 {
		t.Errorf("file min_amount = %v, want 25", cfg.WithdrawalConfig.MinAmount)
	}
	if cfg.ReconciliationConfig.BatchSize != 50 {
		t.Errorf("file batch_size = %d, want 50", cfg.ReconciliationConfig.BatchSize)
	}
	// Fields the file does not set keep their defaults
	if cfg.ServerConfig.Host != "0.0.0.0" {
		t.Errorf("host = %q, want default 0.0.0.0", cfg.ServerConfig.Host)
	}
	if cfg.DatabaseConfig.Port != 5432 {
		t.Errorf("db port = %d, want default 5432", cfg.DatabaseConfig.Port)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	body := `{"server": {"port": 9000}}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	chdir(t, dir)
	t.Setenv("WEB_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ServerConfig.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.ServerConfig.Port)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	chdir(t, dir)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a malformed config file")
	}
}
