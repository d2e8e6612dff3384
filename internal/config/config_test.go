package config

import (
	"path/filepath"
	"testing"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("BRAGI_DATA_DIR", "/var/lib/bragi")
	t.Setenv("BRAGI_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("BRAGI_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.DBDSN != filepath.Join("/var/lib/bragi", "bragi.db") {
		t.Fatalf("expected sqlite DSN under data dir, got %q", cfg.DBDSN)
	}
	if cfg.ZoneConfig != filepath.Join("/var/lib/bragi", "zones.json") {
		t.Fatalf("expected zone config under data dir, got %q", cfg.ZoneConfig)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("BRAGI_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("JWT_SIGNING_KEY", "legacy")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadProductionRequiresSigningKey(t *testing.T) {
	t.Setenv("BRAGI_ENV", "production")
	t.Setenv("BRAGI_JWT_SIGNING_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without a signing key")
	}

	t.Setenv("BRAGI_JWT_SIGNING_KEY", "supersecret")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with signing key to succeed: %v", err)
	}
}

func TestLoadRequiresDSNForServerBackends(t *testing.T) {
	t.Setenv("BRAGI_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("BRAGI_DB_BACKEND", "postgres")
	t.Setenv("BRAGI_DB_DSN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected config load to fail for postgres without a DSN")
	}

	t.Setenv("BRAGI_DB_DSN", "host=localhost user=bragi dbname=bragi sslmode=disable")
	if _, err := Load(); err != nil {
		t.Fatalf("expected postgres config with DSN to succeed: %v", err)
	}
}
