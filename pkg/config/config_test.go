package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Rollout.HealthCheckInterval != 30*time.Second {
		t.Errorf("HealthCheckInterval = %v, want 30s", cfg.Rollout.HealthCheckInterval)
	}
	if cfg.Rollout.ProgressionCheckInterval != time.Minute {
		t.Errorf("ProgressionCheckInterval = %v, want 1m", cfg.Rollout.ProgressionCheckInterval)
	}
	if cfg.Rollout.DiscrepancyRatePerHour != 5 {
		t.Errorf("DiscrepancyRatePerHour = %v, want 5", cfg.Rollout.DiscrepancyRatePerHour)
	}
	if cfg.Telemetry.Backend != "redis" {
		t.Errorf("Telemetry.Backend = %q, want redis", cfg.Telemetry.Backend)
	}
	if cfg.Rollout.ProgressionStepPercent != 5 {
		t.Errorf("ProgressionStepPercent = %d, want 5", cfg.Rollout.ProgressionStepPercent)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad health interval", "HEALTH_CHECK_INTERVAL", "soon"},
		{"bad step percent", "PROGRESSION_STEP_PERCENT", "five"},
		{"bad telemetry backend", "TELEMETRY_BACKEND", "etcd"},
		{"bad stage override", "STAGE_CANARY_MIN_STABLE", "2 hours"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q succeeded, want error", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_StageStableOverrides(t *testing.T) {
	t.Setenv("STAGE_CANARY_MIN_STABLE", "2h")
	t.Setenv("STAGE_MAJORITY_MIN_STABLE", "72h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Rollout.StageStableOverrides["canary"] != 2*time.Hour {
		t.Errorf("canary override = %v, want 2h", cfg.Rollout.StageStableOverrides["canary"])
	}
	if cfg.Rollout.StageStableOverrides["majority"] != 72*time.Hour {
		t.Errorf("majority override = %v, want 72h", cfg.Rollout.StageStableOverrides["majority"])
	}
	if _, ok := cfg.Rollout.StageStableOverrides["shadow"]; ok {
		t.Error("shadow override set without an environment variable")
	}
}

func TestLoad_AuthRequiresToken(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")

	if _, err := Load(); err == nil {
		t.Error("Load() with AUTH_ENABLED and no token succeeded, want error")
	}

	t.Setenv("AUTH_BEARER_TOKEN", "secret")
	if _, err := Load(); err != nil {
		t.Errorf("Load() with token error = %v", err)
	}
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: "5432", User: "app", Password: "pw", Database: "rollout"}

	want := "host=db port=5432 user=app password=pw dbname=rollout sslmode=disable"
	if got := db.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
