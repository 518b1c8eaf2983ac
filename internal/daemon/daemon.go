package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"grist/internal/ai"
	"grist/internal/config"
	"grist/internal/logging"
	"grist/internal/objectstore"
	"grist/internal/pipeline"
	"grist/internal/pipeline/schema"
	"grist/internal/pipeline/sheet"
	"grist/internal/store"
	"grist/internal/worker"
	"grist/internal/workqueue"
)

// Daemon wires the store, queue, pipeline, and worker pool into a single
// lifecycle and enforces single-instance execution through a lock file.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store

	lockPath string
	lock     *flock.Flock

	pool     *worker.Pool
	watchdog *worker.Watchdog

	running atomic.Bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New constructs a daemon with its full dependency graph.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	objects, err := objectstore.NewFS(cfg.Paths.DocumentsDir)
	if err != nil {
		return nil, fmt.Errorf("init object store: %w", err)
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	queue := workqueue.New(st.DB(),
		workqueue.WithVisibilityTimeout(seconds(cfg.Workers.VisibilityTimeout)))

	infer := ai.NewClient(ai.Config{
		APIKey:         cfg.AI.APIKey,
		BaseURL:        cfg.AI.BaseURL,
		Model:          cfg.AI.Model,
		TimeoutSeconds: cfg.AI.TimeoutSeconds,
	})

	executor := pipeline.NewExecutor(infer, st, st, pipeline.Settings{
		ParseTimeout:    seconds(cfg.Pipeline.ParseTimeout),
		ExtractTimeout:  seconds(cfg.Pipeline.ExtractTimeout),
		ValidateTimeout: seconds(cfg.Pipeline.ValidateTimeout),
		FailOnInvalid:   cfg.Pipeline.FailOnInvalid,
	}, logging.NewComponentLogger(logger, "pipeline"))

	pool := worker.NewPool(st, queue, objects, registry, executor, worker.Settings{
		Workers:           cfg.Workers.Count,
		PollWait:          seconds(cfg.Workers.QueuePollInterval),
		HeartbeatInterval: seconds(cfg.Workers.HeartbeatInterval),
		ErrorRetryWait:    seconds(cfg.Workers.ErrorRetryInterval),
		MaxJobAttempts:    cfg.Workers.MaxJobAttempts,
	}, logging.NewComponentLogger(logger, "worker"))

	watchdog := worker.NewWatchdog(st, worker.WatchdogSettings{
		Interval:       seconds(cfg.Workers.WatchdogInterval),
		Staleness:      seconds(cfg.Workers.StalenessTimeout),
		MaxJobAttempts: cfg.Workers.MaxJobAttempts,
	}, logging.NewComponentLogger(logger, "watchdog"))

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		pool:     pool,
		watchdog: watchdog,
	}, nil
}

// buildRegistry binds the spreadsheet capabilities to the supported
// document subtypes.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*pipeline.Registry, error) {
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("compile validation schemas: %w", err)
	}
	caps := pipeline.Capabilities{
		Parser: sheet.NewParser(),
		Extractor: sheet.NewExtractor(sheet.ExtractorOptions{
			MaxAttempts:    cfg.Pipeline.AIMaxAttempts,
			RetryBase:      time.Duration(cfg.Pipeline.AIRetryBaseMillis) * time.Millisecond,
			RetryMax:       time.Duration(cfg.Pipeline.AIRetryMaxMillis) * time.Millisecond,
			MaxConcurrency: cfg.Pipeline.MaxConcurrentCalls,
		}, logging.NewComponentLogger(logger, "extractor")),
		Validator: validator,
	}

	registry := pipeline.NewRegistry()
	for _, subtype := range []string{"xlsx", "xlsm", "csv"} {
		if err := registry.Register(subtype, caps); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Start acquires the lock and launches the pool and watchdog.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another gristd instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.stopped = make(chan struct{})

	d.pool.Start(runCtx)
	go func() {
		defer close(d.stopped)
		d.watchdog.Run(runCtx)
	}()

	d.running.Store(true)
	d.logger.Info("gristd started",
		logging.String("lock", d.lockPath),
		logging.Int("workers", d.cfg.Workers.Count),
		logging.String("database", d.store.Path()))
	return nil
}

// Stop halts background processing and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.pool.Wait()
	if d.stopped != nil {
		<-d.stopped
		d.stopped = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("gristd stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Running reports whether the daemon's background loops are active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}
