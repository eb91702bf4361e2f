package config

import (
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %q, want %q", cfg.Port, DefaultPort)
	}
	if cfg.Env != DefaultEnv {
		t.Errorf("Env = %q, want %q", cfg.Env, DefaultEnv)
	}
	if cfg.RateLimitRPM != DefaultRateLimit {
		t.Errorf("RateLimitRPM = %d, want %d", cfg.RateLimitRPM, DefaultRateLimit)
	}
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when JWT_SECRET is unset")
	}
}

func TestLoad_ShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "too-short")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for short JWT_SECRET")
	}
}

func TestValidate_ProductionRequiresDatabase(t *testing.T) {
	cfg := &Config{Env: "production", JWTSecret: testSecret}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error: production without DATABASE_URL")
	}

	cfg.DatabaseURL = "postgres://localhost/aftersale"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnvHelpers(t *testing.T) {
	cfg := &Config{Env: "production"}
	if !cfg.IsProduction() || cfg.IsDevelopment() {
		t.Error("expected production mode")
	}
	cfg.Env = "development"
	if cfg.IsProduction() || !cfg.IsDevelopment() {
		t.Error("expected development mode")
	}
}
