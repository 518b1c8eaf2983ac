package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"grist/internal/logging"
	"grist/internal/objectstore"
	"grist/internal/pipeline"
	"grist/internal/services"
	"grist/internal/store"
	"grist/internal/workqueue"
)

// Settings controls the pool's loop timing and retry budget.
type Settings struct {
	Workers           int
	PollWait          time.Duration
	HeartbeatInterval time.Duration
	ErrorRetryWait    time.Duration
	MaxJobAttempts    int
}

func (s *Settings) normalize() {
	if s.Workers < 1 {
		s.Workers = 1
	}
	if s.PollWait <= 0 {
		s.PollWait = time.Second
	}
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 5 * time.Second
	}
	if s.ErrorRetryWait <= 0 {
		s.ErrorRetryWait = time.Second
	}
	if s.MaxJobAttempts < 1 {
		s.MaxJobAttempts = 1
	}
}

// Pool runs N worker loops over the durable queue. Each loop dequeues a
// delivery, claims the job, executes the pipeline, and finalizes through
// exactly one token-guarded store call before acknowledging.
type Pool struct {
	store    *store.Store
	queue    *workqueue.Queue
	objects  objectstore.Store
	registry *pipeline.Registry
	executor *pipeline.Executor
	settings Settings
	logger   *slog.Logger

	wg sync.WaitGroup
}

func NewPool(st *store.Store, queue *workqueue.Queue, objects objectstore.Store, registry *pipeline.Registry, executor *pipeline.Executor, settings Settings, logger *slog.Logger) *Pool {
	settings.normalize()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		store:    st,
		queue:    queue,
		objects:  objects,
		registry: registry,
		executor: executor,
		settings: settings,
		logger:   logger,
	}
}

// Start launches the worker loops. They exit when ctx is canceled; Wait
// blocks until all loops have drained.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.settings.Workers; i++ {
		workerNum := i + 1
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx, workerNum)
		}()
	}
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, workerNum int) {
	ctx = services.WithWorkerID(ctx, workerNum)
	log := logging.WithContext(ctx, p.logger)
	log.Info("worker started")
	defer log.Info("worker stopped")

	for ctx.Err() == nil {
		delivery, err := p.queue.Dequeue(ctx, p.settings.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the job database is reachable and not locked"))
			select {
			case <-time.After(p.settings.ErrorRetryWait):
			case <-ctx.Done():
				return
			}
			continue
		}
		if delivery == nil {
			continue
		}
		p.process(ctx, log, delivery)
	}
}

// process owns one delivery end to end. The delivery is acknowledged in
// every path that reached a finalize decision; claim or storage errors
// leave it unacked so the visibility timeout redelivers it.
func (p *Pool) process(ctx context.Context, log *slog.Logger, delivery *workqueue.Delivery) {
	// Finalize and ack must still land during shutdown, otherwise a nearly
	// finished job gets replayed from scratch.
	fctx := context.WithoutCancel(ctx)

	job, token, claimed, err := p.store.ClaimJob(ctx, delivery.JobID)
	if err != nil {
		log.Error("claim failed", logging.String(logging.FieldJobID, delivery.JobID), logging.Error(err))
		return
	}
	if !claimed {
		// Duplicate delivery, terminal job, or lost cancel race.
		p.ack(fctx, log, delivery)
		return
	}

	ctx = services.WithJobID(services.WithDocumentID(ctx, job.DocumentID), job.ID)
	log = logging.WithContext(ctx, p.logger)
	log.Info("job claimed", logging.Int("attempt", job.Attempts))

	doc, err := p.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		p.retryOrFail(fctx, log, job, token, services.Wrap(services.ErrTransient, "", "document lookup", "document could not be loaded", err))
		p.ack(fctx, log, delivery)
		return
	}
	if doc == nil {
		p.fail(fctx, log, job.ID, token, "document record missing")
		p.ack(fctx, log, delivery)
		return
	}

	caps, found := p.registry.Lookup(doc.FileType)
	if !found {
		p.fail(fctx, log, job.ID, token, fmt.Sprintf("unsupported document type %q", doc.FileType))
		p.ack(fctx, log, delivery)
		return
	}

	body, err := p.objects.Get(ctx, doc.StorageRef)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			p.fail(fctx, log, job.ID, token, "document bytes missing from object store")
		} else {
			p.retryOrFail(fctx, log, job, token, err)
		}
		p.ack(fctx, log, delivery)
		return
	}

	outcome, runErr := p.runWithHeartbeat(ctx, job.ID, token, doc, caps, body)
	body.Close()

	switch {
	case runErr != nil:
		if errors.Is(runErr, services.ErrTransient) {
			p.retryOrFail(fctx, log, job, token, runErr)
		} else {
			p.fail(fctx, log, job.ID, token, runErr.Error())
		}
	case outcome.Canceled:
		p.cancel(fctx, log, job.ID, token)
	default:
		p.complete(fctx, log, job.ID, token, outcome)
	}
	p.ack(fctx, log, delivery)
}

// runWithHeartbeat executes the pipeline while a companion goroutine keeps
// the job's heartbeat fresh so the watchdog leaves it alone.
func (p *Pool) runWithHeartbeat(ctx context.Context, jobID, token string, doc *store.Document, caps pipeline.Capabilities, body io.Reader) (*pipeline.Outcome, error) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.settings.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := p.store.Heartbeat(hbCtx, jobID, token); err != nil {
					p.logger.Debug("heartbeat skipped", logging.String(logging.FieldJobID, jobID), logging.Error(err))
				}
			}
		}
	}()

	outcome, err := p.executor.Run(ctx, jobID, token, doc.FileType, doc.Filename, caps, body)
	stopHeartbeat()
	<-done
	return outcome, err
}

func (p *Pool) complete(ctx context.Context, log *slog.Logger, jobID, token string, outcome *pipeline.Outcome) {
	validation, err := json.Marshal(outcome.Validation)
	if err != nil {
		p.fail(ctx, log, jobID, token, "validation results could not be encoded")
		return
	}
	ok, err := p.store.FinalizeSuccess(ctx, jobID, token, store.ExtractionInput{
		ExtractedData:     string(outcome.ExtractedData),
		ConfidenceScore:   outcome.Confidence,
		FormatType:        outcome.FormatType,
		ValidationResults: string(validation),
	})
	if err != nil {
		log.Error("finalize success failed", logging.Error(err))
		return
	}
	if !ok {
		log.Warn("finalize skipped, job already finalized")
		return
	}
	log.Info("job completed",
		logging.String(logging.FieldEventType, "job_completed"),
		logging.Float64("confidence", outcome.Confidence))
}

func (p *Pool) cancel(ctx context.Context, log *slog.Logger, jobID, token string) {
	ok, err := p.store.FinalizeCanceled(ctx, jobID, token)
	if err != nil {
		log.Error("finalize cancel failed", logging.Error(err))
		return
	}
	if ok {
		log.Info("job canceled cooperatively", logging.String(logging.FieldEventType, "job_canceled"))
	}
}

func (p *Pool) fail(ctx context.Context, log *slog.Logger, jobID, token, message string) {
	ok, err := p.store.FinalizeFailure(ctx, jobID, token, message)
	if err != nil {
		log.Error("finalize failure failed", logging.Error(err))
		return
	}
	if ok {
		log.Warn("job failed",
			logging.String(logging.FieldEventType, "job_failed"),
			logging.String("reason", message))
	}
}

// retryOrFail sends a transiently failed job back to the queue while its
// attempt budget lasts, otherwise fails it for good.
func (p *Pool) retryOrFail(ctx context.Context, log *slog.Logger, job *store.Job, token string, cause error) {
	if job.Attempts < p.settings.MaxJobAttempts {
		ok, err := p.store.RequeueLost(ctx, job.ID, token)
		if err != nil {
			log.Error("requeue failed", logging.Error(err))
			return
		}
		if ok {
			log.Warn("job requeued after transient failure",
				logging.String(logging.FieldEventType, "job_requeued"),
				logging.Int("attempt", job.Attempts),
				logging.Error(cause))
		}
		return
	}
	p.fail(ctx, log, job.ID, token, fmt.Sprintf("failed after %d attempts: %s", job.Attempts, cause.Error()))
}

func (p *Pool) ack(ctx context.Context, log *slog.Logger, delivery *workqueue.Delivery) {
	if err := p.queue.Ack(ctx, delivery); err != nil {
		log.Error("ack failed", logging.Error(err))
	}
}
