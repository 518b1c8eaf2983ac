package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks semantic constraints the TOML decoder cannot express.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if c.Workers.Count < 1 {
		problems = append(problems, "workers.count must be at least 1")
	}
	if c.Workers.VisibilityTimeout < 1 {
		problems = append(problems, "workers.visibility_timeout must be at least 1 second")
	}
	if c.Workers.MaxJobAttempts < 1 {
		problems = append(problems, "workers.max_job_attempts must be at least 1")
	}
	if c.Workers.StalenessTimeout > 0 && c.Workers.HeartbeatInterval > 0 &&
		c.Workers.StalenessTimeout <= c.Workers.HeartbeatInterval {
		problems = append(problems, "workers.staleness_timeout must exceed workers.heartbeat_interval")
	}
	if c.Pipeline.AIMaxAttempts < 1 {
		problems = append(problems, "pipeline.ai_max_attempts must be at least 1")
	}
	if c.Pipeline.MaxConcurrentCalls < 1 {
		problems = append(problems, "pipeline.max_concurrent_calls must be at least 1")
	}
	if c.Pipeline.AIRetryBaseMillis < 0 || c.Pipeline.AIRetryMaxMillis < 0 {
		problems = append(problems, "pipeline retry delays must not be negative")
	}
	if c.AI.BaseURL == "" {
		problems = append(problems, "ai.base_url must be set")
	}

	if len(problems) == 0 {
		return nil
	}
	if len(problems) == 1 {
		return errors.New(problems[0])
	}
	return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
}
