// Package config loads memoryd's configuration: a TOML file for the
// tunables spec.md calls out as "configuration, not code" (context
// budgets, skill thresholds, worker concurrency), with environment
// overrides for the database URL and model-service credentials.
// Grounded on the teacher's config.go (env.Parse + validator.Struct),
// extended with a TOML layer per the expanded spec's ambient stack.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// General holds process-wide settings plus the secrets and ports that
// never belong in a checked-in TOML file.
type General struct {
	Env      string `toml:"env" validate:"required,oneof=local staging production"`
	LogLevel string `toml:"log_level" validate:"required,oneof=debug info warn error"`

	DatabaseURL  string `toml:"-" env:"DATABASE_URL,required" validate:"required"`
	ModelBaseURL string `toml:"-" env:"MODEL_SERVICE_URL"`
	ModelAPIKey  string `toml:"-" env:"MODEL_SERVICE_API_KEY"`

	MetricsPort string `toml:"-" env:"METRICS_PORT" envDefault:"9090"`
	DebugPort   string `toml:"-" env:"DEBUG_PORT" envDefault:"8090"`
}

// Context tunes the hot retrieval path (Classifier/Retriever/Formatter).
type Context struct {
	BudgetMS            int `toml:"budget_ms" validate:"min=100,max=10000"`
	TokenBudget         int `toml:"token_budget" validate:"min=100"`
	ConversationWindowH int `toml:"conversation_window_hours" validate:"min=1"`
	ErrorWindowH        int `toml:"error_window_hours" validate:"min=1"`
	BranchResultLimit   int `toml:"branch_result_limit" validate:"min=1,max=500"`
}

func (c Context) Budget() time.Duration             { return time.Duration(c.BudgetMS) * time.Millisecond }
func (c Context) ConversationWindow() time.Duration { return time.Duration(c.ConversationWindowH) * time.Hour }
func (c Context) ErrorWindow() time.Duration        { return time.Duration(c.ErrorWindowH) * time.Hour }

// Skills tunes the Skill Engine.
type Skills struct {
	MinQualityScore      float64  `toml:"min_quality_score" validate:"min=0,max=1"`
	ConfirmationKeywords []string `toml:"confirmation_keywords"`
	BaseDir              string   `toml:"base_dir" validate:"required"`
}

// Worker tunes the cold-path job worker.
type Worker struct {
	Claimers        int `toml:"claimers" validate:"min=1,max=32"`
	PollIntervalMS  int `toml:"poll_interval_ms" validate:"min=10"`
	LeaseSeconds    int `toml:"lease_seconds" validate:"min=1"`
	ReapIntervalSec int `toml:"reap_interval_seconds" validate:"min=1"`
}

func (w Worker) PollInterval() time.Duration { return time.Duration(w.PollIntervalMS) * time.Millisecond }
func (w Worker) Lease() time.Duration        { return time.Duration(w.LeaseSeconds) * time.Second }

// Config is the fully resolved configuration: TOML file values, then
// environment overrides, then validated.
type Config struct {
	General General `toml:"general"`
	Context Context `toml:"context"`
	Skills  Skills  `toml:"skills"`
	Worker  Worker  `toml:"worker"`
}

// defaults keeps memoryd working with a missing or partial TOML file.
func defaults() Config {
	return Config{
		General: General{Env: "local", LogLevel: "info"},
		Context: Context{
			BudgetMS: 500, TokenBudget: 1500,
			ConversationWindowH: 14 * 24, ErrorWindowH: 72,
			BranchResultLimit: 20,
		},
		Skills: Skills{
			MinQualityScore: 0.6,
			ConfirmationKeywords: []string{
				"yes", "yep", "looks good", "lgtm", "confirmed",
				"great, thanks", "perfect", "works now", "that fixed it", "all good",
			},
			BaseDir: "~/.memoryd",
		},
		Worker: Worker{Claimers: 2, PollIntervalMS: 250, LeaseSeconds: 120, ReapIntervalSec: 30},
	}
}

// Load reads path (if it exists) over the defaults, applies environment
// overrides, and validates the result. path may be empty, in which case
// only defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Missing config file is fine; defaults + env still apply.
		default:
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// SlogLevel converts General.LogLevel to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.General.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
