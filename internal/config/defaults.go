package config

import (
	"os"
	"path/filepath"
)

// Default returns the built-in configuration values.
func Default() Config {
	dataDir := defaultDataDir()
	return Config{
		Paths: Paths{
			DataDir:      dataDir,
			DocumentsDir: filepath.Join(dataDir, "documents"),
			LogDir:       filepath.Join(dataDir, "logs"),
		},
		Workers: Workers{
			Count:              4,
			QueuePollInterval:  1,
			VisibilityTimeout:  120,
			HeartbeatInterval:  5,
			StalenessTimeout:   20,
			WatchdogInterval:   15,
			MaxJobAttempts:     3,
			ErrorRetryInterval: 5,
		},
		Pipeline: Pipeline{
			ParseTimeout:       60,
			ExtractTimeout:     300,
			ValidateTimeout:    30,
			AIMaxAttempts:      3,
			AIRetryBaseMillis:  500,
			AIRetryMaxMillis:   10000,
			MaxConcurrentCalls: 2,
			FailOnInvalid:      false,
		},
		AI: AI{
			BaseURL:        "https://api.openai.com/v1/chat/completions",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 60,
		},
		Logging: Logging{
			Format: "text",
			Level:  "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "grist")
	}
	return filepath.Join(home, ".local", "share", "grist")
}
