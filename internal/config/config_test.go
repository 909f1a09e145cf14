package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every variable Load consults so ambient shell state cannot
// leak into the assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		configPathEnv, "PORT", "DB_PATH", "LOG_LEVEL", "CORS_ORIGIN",
		"SCAN_STATUSES", "BATCH_SIZE", "SWEEP_INTERVAL", "THROTTLE_WINDOW",
		"MIN_ARTIFACT_BYTES", "REQUIRE_README_IN_ZIP", "PROMPT_COUNT_TOLERANCE",
		"ARTIFACT_FETCH_TIMEOUT", "WRITE_STATUS", "STATUS_PASSED", "STATUS_FAILED",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DBPath != "promptgate.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if len(cfg.ScanStatuses) != 3 {
		t.Errorf("ScanStatuses = %v, want 3 entries", cfg.ScanStatuses)
	}
	if cfg.SweepInterval != 15*time.Minute {
		t.Errorf("SweepInterval = %s, want 15m", cfg.SweepInterval)
	}
	if cfg.ThrottleWindow != time.Hour {
		t.Errorf("ThrottleWindow = %s, want 1h", cfg.ThrottleWindow)
	}
	if cfg.MinArtifactBytes != 5000 {
		t.Errorf("MinArtifactBytes = %d, want 5000", cfg.MinArtifactBytes)
	}
	if !cfg.WriteStatus {
		t.Error("WriteStatus = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("SCAN_STATUSES", "pending, needs_review")
	t.Setenv("SWEEP_INTERVAL", "5m")
	t.Setenv("MIN_ARTIFACT_BYTES", "12000")
	t.Setenv("WRITE_STATUS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if len(cfg.ScanStatuses) != 2 || cfg.ScanStatuses[1] != "needs_review" {
		t.Errorf("ScanStatuses = %v", cfg.ScanStatuses)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Errorf("SweepInterval = %s, want 5m", cfg.SweepInterval)
	}
	if cfg.MinArtifactBytes != 12000 {
		t.Errorf("MinArtifactBytes = %d, want 12000", cfg.MinArtifactBytes)
	}
	if cfg.WriteStatus {
		t.Error("WriteStatus = true, want false")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
port: "3000"
scanStatuses: [pending]
throttleWindow: 30m
requireReadmeInZip: false
bannedPhrases:
  - "too good to be true"
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)
	// Environment still wins over the file.
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want env override 9090", cfg.Port)
	}
	if len(cfg.ScanStatuses) != 1 || cfg.ScanStatuses[0] != "pending" {
		t.Errorf("ScanStatuses = %v, want [pending]", cfg.ScanStatuses)
	}
	if cfg.ThrottleWindow != 30*time.Minute {
		t.Errorf("ThrottleWindow = %s, want 30m", cfg.ThrottleWindow)
	}
	if cfg.RequireReadmeInZip {
		t.Error("RequireReadmeInZip = true, want false")
	}
	if len(cfg.BannedPhrases) != 1 || cfg.BannedPhrases[0] != "too good to be true" {
		t.Errorf("BannedPhrases = %v", cfg.BannedPhrases)
	}
	// Untouched fields keep their defaults.
	if cfg.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.BatchSize)
	}
}

func TestLoad_UnparseableFileIsFatal(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml: ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil error for an unparseable file, want error")
	}
}

func TestLoad_AbsentFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want default 8080", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"empty scan set", func(c *Config) { c.ScanStatuses = nil }, true},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, true},
		{"zero interval", func(c *Config) { c.SweepInterval = 0 }, true},
		{"negative throttle", func(c *Config) { c.ThrottleWindow = -time.Minute }, true},
		{"zero throttle ok", func(c *Config) { c.ThrottleWindow = 0 }, false},
		{"negative artifact bytes", func(c *Config) { c.MinArtifactBytes = -1 }, true},
		{"empty status label", func(c *Config) { c.StatusPassed = "" }, true},
		{"identical status labels", func(c *Config) { c.StatusPassed = c.StatusFailed }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}
