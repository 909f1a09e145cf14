// Package config provides centralized configuration for the promptgate
// server. Values come from an optional YAML file (PROMPTGATE_CONFIG) with
// environment variable overrides on top, falling back to defaults.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "PROMPTGATE_CONFIG"

// Config holds all server configuration values.
type Config struct {
	// Port is the HTTP server listen port.
	Port string

	// DBPath is the path to the SQLite database file.
	DBPath string

	// LogLevel is the minimum slog level: debug, info, warn, error.
	LogLevel string

	// CORSOrigin is the allowed CORS origin. Defaults to "*".
	CORSOrigin string

	// ScanStatuses are the lifecycle statuses the sweeper evaluates.
	ScanStatuses []string

	// BatchSize bounds how many records per status one sweep touches.
	BatchSize int

	// SweepInterval is the delay between scheduled sweeps.
	SweepInterval time.Duration

	// ThrottleWindow is the minimum time between automatic evaluations of
	// the same record.
	ThrottleWindow time.Duration

	// MinArtifactBytes is the minimum deliverable size.
	MinArtifactBytes int64

	// RequireReadmeInZip demands a README entry inside archive artifacts.
	RequireReadmeInZip bool

	// PromptCountTolerance is the allowed drift between the declared and
	// the detected prompt count.
	PromptCountTolerance int

	// ArtifactFetchTimeout bounds each remote artifact download.
	ArtifactFetchTimeout time.Duration

	// WriteStatus controls whether verdicts advance the lifecycle status
	// (qa_passed/qa_failed) or only annotate the qa sub-object.
	WriteStatus bool

	// StatusPassed / StatusFailed are the lifecycle labels written on a
	// verdict, matching whatever the downstream publisher polls for.
	StatusPassed string
	StatusFailed string

	// BannedPhrases overrides the stock marketing-claim denylist when set.
	BannedPhrases []string
}

// fileConfig mirrors Config for YAML decoding. Pointer fields distinguish
// "absent" from zero values so the file only overrides what it names.
type fileConfig struct {
	Port                 *string  `yaml:"port"`
	DBPath               *string  `yaml:"dbPath"`
	LogLevel             *string  `yaml:"logLevel"`
	CORSOrigin           *string  `yaml:"corsOrigin"`
	ScanStatuses         []string `yaml:"scanStatuses"`
	BatchSize            *int     `yaml:"batchSize"`
	SweepInterval        *string  `yaml:"sweepInterval"`
	ThrottleWindow       *string  `yaml:"throttleWindow"`
	MinArtifactBytes     *int64   `yaml:"minArtifactBytes"`
	RequireReadmeInZip   *bool    `yaml:"requireReadmeInZip"`
	PromptCountTolerance *int     `yaml:"promptCountTolerance"`
	ArtifactFetchTimeout *string  `yaml:"artifactFetchTimeout"`
	WriteStatus          *bool    `yaml:"writeStatus"`
	StatusPassed         *string  `yaml:"statusPassed"`
	StatusFailed         *string  `yaml:"statusFailed"`
	BannedPhrases        []string `yaml:"bannedPhrases"`
}

func defaults() Config {
	return Config{
		Port:                 "8080",
		DBPath:               "promptgate.db",
		LogLevel:             "info",
		CORSOrigin:           "*",
		ScanStatuses:         []string{"pending", "draft", "qa_failed"},
		BatchSize:            50,
		SweepInterval:        15 * time.Minute,
		ThrottleWindow:       time.Hour,
		MinArtifactBytes:     5000,
		RequireReadmeInZip:   true,
		PromptCountTolerance: 2,
		ArtifactFetchTimeout: 30 * time.Second,
		WriteStatus:          true,
		StatusPassed:         "qa_passed",
		StatusFailed:         "qa_failed",
	}
}

// Load reads YAML configuration (if present) and applies environment
// overrides on top of the defaults. An absent file is fine; a file that
// exists but cannot be read or parsed is a fatal error, since silently
// running on defaults would mask the misconfiguration.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Printf("config: %s not found, using defaults", path)
		case err != nil:
			return cfg, fmt.Errorf("read %s: %w", path, err)
		default:
			var fc fileConfig
			if err := yaml.Unmarshal(raw, &fc); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
			cfg.applyFile(fc)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyFile(fc fileConfig) {
	setString(&c.Port, fc.Port)
	setString(&c.DBPath, fc.DBPath)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.CORSOrigin, fc.CORSOrigin)
	if len(fc.ScanStatuses) > 0 {
		c.ScanStatuses = fc.ScanStatuses
	}
	if fc.BatchSize != nil {
		c.BatchSize = *fc.BatchSize
	}
	setDuration(&c.SweepInterval, fc.SweepInterval)
	setDuration(&c.ThrottleWindow, fc.ThrottleWindow)
	if fc.MinArtifactBytes != nil {
		c.MinArtifactBytes = *fc.MinArtifactBytes
	}
	if fc.RequireReadmeInZip != nil {
		c.RequireReadmeInZip = *fc.RequireReadmeInZip
	}
	if fc.PromptCountTolerance != nil {
		c.PromptCountTolerance = *fc.PromptCountTolerance
	}
	setDuration(&c.ArtifactFetchTimeout, fc.ArtifactFetchTimeout)
	if fc.WriteStatus != nil {
		c.WriteStatus = *fc.WriteStatus
	}
	setString(&c.StatusPassed, fc.StatusPassed)
	setString(&c.StatusFailed, fc.StatusFailed)
	if len(fc.BannedPhrases) > 0 {
		c.BannedPhrases = fc.BannedPhrases
	}
}

func (c *Config) applyEnvOverrides() {
	c.Port = envOr("PORT", c.Port)
	c.DBPath = envOr("DB_PATH", c.DBPath)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.CORSOrigin = envOr("CORS_ORIGIN", c.CORSOrigin)
	if v := os.Getenv("SCAN_STATUSES"); v != "" {
		c.ScanStatuses = splitComma(v)
	}
	c.BatchSize = envInt("BATCH_SIZE", c.BatchSize)
	c.SweepInterval = envDuration("SWEEP_INTERVAL", c.SweepInterval)
	c.ThrottleWindow = envDuration("THROTTLE_WINDOW", c.ThrottleWindow)
	c.MinArtifactBytes = int64(envInt("MIN_ARTIFACT_BYTES", int(c.MinArtifactBytes)))
	c.RequireReadmeInZip = envBool("REQUIRE_README_IN_ZIP", c.RequireReadmeInZip)
	c.PromptCountTolerance = envInt("PROMPT_COUNT_TOLERANCE", c.PromptCountTolerance)
	c.ArtifactFetchTimeout = envDuration("ARTIFACT_FETCH_TIMEOUT", c.ArtifactFetchTimeout)
	c.WriteStatus = envBool("WRITE_STATUS", c.WriteStatus)
	c.StatusPassed = envOr("STATUS_PASSED", c.StatusPassed)
	c.StatusFailed = envOr("STATUS_FAILED", c.StatusFailed)
}

// Validate reports fatal misconfiguration. The process must not start on a
// non-nil error: there is no safe partial operation.
func (c Config) Validate() error {
	if len(c.ScanStatuses) == 0 {
		return fmt.Errorf("scan statuses must not be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", c.SweepInterval)
	}
	if c.ThrottleWindow < 0 {
		return fmt.Errorf("throttle window must not be negative, got %s", c.ThrottleWindow)
	}
	if c.MinArtifactBytes < 0 {
		return fmt.Errorf("min artifact bytes must not be negative, got %d", c.MinArtifactBytes)
	}
	if c.StatusPassed == "" || c.StatusFailed == "" {
		return fmt.Errorf("pass/fail status labels must not be empty")
	}
	if c.StatusPassed == c.StatusFailed {
		return fmt.Errorf("pass and fail status labels must differ")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func setString(dst *string, src *string) {
	if src != nil && *src != "" {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) {
	if src == nil {
		return
	}
	if d, err := time.ParseDuration(*src); err == nil {
		*dst = d
	}
}

func splitComma(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
