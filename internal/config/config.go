package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	DocumentsDir string `toml:"documents_dir"`
	LogDir       string `toml:"log_dir"`
}

// Workers contains worker pool and queue timing configuration. Durations are
// in seconds.
type Workers struct {
	Count              int `toml:"count"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	VisibilityTimeout  int `toml:"visibility_timeout"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	StalenessTimeout   int `toml:"staleness_timeout"`
	WatchdogInterval   int `toml:"watchdog_interval"`
	MaxJobAttempts     int `toml:"max_job_attempts"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Pipeline contains per-stage execution policy. Durations are in seconds.
type Pipeline struct {
	ParseTimeout       int  `toml:"parse_timeout"`
	ExtractTimeout     int  `toml:"extract_timeout"`
	ValidateTimeout    int  `toml:"validate_timeout"`
	AIMaxAttempts      int  `toml:"ai_max_attempts"`
	AIRetryBaseMillis  int  `toml:"ai_retry_base_ms"`
	AIRetryMaxMillis   int  `toml:"ai_retry_max_ms"`
	MaxConcurrentCalls int  `toml:"max_concurrent_calls"`
	FailOnInvalid      bool `toml:"fail_on_invalid"`
}

// AI contains the external inference endpoint connection settings.
type AI struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the root configuration for the daemon and CLI.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Workers  Workers  `toml:"workers"`
	Pipeline Pipeline `toml:"pipeline"`
	AI       AI       `toml:"ai"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "grist", "config.toml"), nil
}

// Load reads configuration from path, falling back to the default location and
// then to built-in defaults when no file exists. It returns the config, the
// path consulted, and whether a file was actually read.
func Load(path string) (*Config, string, bool, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		var err error
		resolved, err = DefaultConfigPath()
		if err != nil {
			return nil, "", false, err
		}
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := cfg.normalize(); err != nil {
			return nil, resolved, false, err
		}
		return &cfg, resolved, false, nil
	case err != nil:
		return nil, resolved, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, resolved, true, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, resolved, true, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, resolved, true, err
	}
	return &cfg, resolved, true, nil
}

// WriteSample writes the embedded sample config to path, refusing to clobber
// an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.DocumentsDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "grist.db")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "gristd.lock")
}

func (c *Config) normalize() error {
	expand := func(p string) (string, error) {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("expand %q: %w", p, err)
			}
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
		return p, nil
	}
	var err error
	if c.Paths.DataDir, err = expand(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.DocumentsDir, err = expand(c.Paths.DocumentsDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expand(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.DocumentsDir == "" && c.Paths.DataDir != "" {
		c.Paths.DocumentsDir = filepath.Join(c.Paths.DataDir, "documents")
	}
	if c.Paths.LogDir == "" && c.Paths.DataDir != "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	c.AI.BaseURL = strings.TrimSpace(c.AI.BaseURL)
	c.AI.Model = strings.TrimSpace(c.AI.Model)
	c.AI.APIKey = strings.TrimSpace(c.AI.APIKey)
	return nil
}
