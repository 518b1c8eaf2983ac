package main

import (
	"strings"
	"sync"

	"grist/internal/config"
	"grist/internal/logging"
	"grist/internal/objectstore"
	"grist/internal/orchestrator"
	"grist/internal/store"
)

// commandContext lazily loads configuration and opens the shared store for
// commands that need it. The CLI talks to the same SQLite database as the
// daemon; WAL mode keeps concurrent readers safe.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withOrchestrator opens the store and object store for the duration of one
// command.
func (c *commandContext) withOrchestrator(fn func(*orchestrator.Orchestrator, *store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	objects, err := objectstore.NewFS(cfg.Paths.DocumentsDir)
	if err != nil {
		return err
	}
	return fn(orchestrator.New(st, objects, logging.NewNop()), st)
}
