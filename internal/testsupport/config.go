package testsupport

import (
	"path/filepath"
	"testing"

	"grist/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.DocumentsDir = filepath.Join(base, "documents")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.AI.APIKey = "test"
	cfg.Workers.Count = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cfg
}

// WithWorkers overrides the worker count on the test config.
func WithWorkers(count int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workers.Count = count
	}
}

// WithFailOnInvalid enables the strict validation policy on the test config.
func WithFailOnInvalid() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.FailOnInvalid = true
	}
}
