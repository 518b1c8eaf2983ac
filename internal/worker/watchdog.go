package worker

import (
	"context"
	"log/slog"
	"time"

	"grist/internal/logging"
	"grist/internal/services"
	"grist/internal/store"
)

// WatchdogSettings controls the stale-job sweep.
type WatchdogSettings struct {
	Interval       time.Duration
	Staleness      time.Duration
	MaxJobAttempts int
}

func (s *WatchdogSettings) normalize() {
	if s.Interval <= 0 {
		s.Interval = 15 * time.Second
	}
	if s.Staleness <= 0 {
		s.Staleness = 20 * time.Second
	}
	if s.MaxJobAttempts < 1 {
		s.MaxJobAttempts = 1
	}
}

// Watchdog recovers jobs whose worker died mid-processing. A processing job
// whose heartbeat has gone stale is sent back to the queue while its attempt
// budget lasts, and failed as lost otherwise. All transitions are guarded by
// the stale worker's claim token, so a worker that was merely slow and
// finalized in the meantime wins the race.
type Watchdog struct {
	store    *store.Store
	settings WatchdogSettings
	logger   *slog.Logger
}

func NewWatchdog(st *store.Store, settings WatchdogSettings, logger *slog.Logger) *Watchdog {
	settings.normalize()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watchdog{store: st, settings: settings, logger: logger}
}

// Run sweeps until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.settings.Interval)
	defer ticker.Stop()
	w.logger.Info("watchdog started",
		logging.Duration("interval", w.settings.Interval),
		logging.Duration("staleness", w.settings.Staleness))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep handles one pass over stale processing jobs.
func (w *Watchdog) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.settings.Staleness)
	stale, err := w.store.StaleProcessing(ctx, cutoff)
	if err != nil {
		w.logger.Error("stale sweep failed", logging.Error(err))
		return
	}
	for _, job := range stale {
		w.recover(ctx, job)
	}
}

func (w *Watchdog) recover(ctx context.Context, job *store.Job) {
	ctx = services.WithJobID(services.WithDocumentID(ctx, job.DocumentID), job.ID)
	log := logging.WithContext(ctx, w.logger)

	if job.CancelRequested {
		ok, err := w.store.FinalizeCanceled(ctx, job.ID, job.ClaimToken)
		if err != nil {
			log.Error("cancel of lost job failed", logging.Error(err))
		} else if ok {
			log.Info("lost job finalized as canceled")
		}
		return
	}

	if job.Attempts < w.settings.MaxJobAttempts {
		ok, err := w.store.RequeueLost(ctx, job.ID, job.ClaimToken)
		if err != nil {
			log.Error("requeue of lost job failed", logging.Error(err))
			return
		}
		if ok {
			log.Warn("lost job requeued", logging.Int("attempt", job.Attempts))
		}
		return
	}

	ok, err := w.store.FinalizeFailure(ctx, job.ID, job.ClaimToken, "worker_lost: heartbeat expired")
	if err != nil {
		log.Error("failing lost job failed", logging.Error(err))
		return
	}
	if ok {
		log.Warn("lost job failed after exhausting attempts",
			logging.String(logging.FieldEventType, "job_failed"),
			logging.Int("attempts", job.Attempts),
			logging.String(logging.FieldErrorHint, "check daemon logs for the crashed attempt before re-creating the job"))
	}
}
