package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"grist/internal/logging"
	"grist/internal/objectstore"
	"grist/internal/services"
	"grist/internal/store"
)

// Orchestrator is the public job API: document registration, job creation
// and cancellation, progress reads, and result retrieval. Queue distribution
// happens inside the store's job creation transaction, so callers never see
// a job without a pending delivery.
type Orchestrator struct {
	store   *store.Store
	objects objectstore.Store
	logger  *slog.Logger
}

func New(st *store.Store, objects objectstore.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{store: st, objects: objects, logger: logger}
}

var supportedFileTypes = map[string]struct{}{
	"xlsx": {},
	"xlsm": {},
	"csv":  {},
}

// requestScope tags ctx with a correlation id so the mutation's log lines can
// be tied together. A caller-provided id wins.
func requestScope(ctx context.Context) context.Context {
	if _, ok := services.RequestIDFromContext(ctx); ok {
		return ctx
	}
	return services.WithRequestID(ctx, uuid.NewString())
}

// RegisterDocument stores the document bytes and creates its record. The
// declared type comes from the filename extension.
func (o *Orchestrator) RegisterDocument(ctx context.Context, filename string, r io.Reader) (*store.Document, error) {
	ctx = requestScope(ctx)
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." {
		return nil, fmt.Errorf("filename is required")
	}
	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(base)), ".")
	if _, ok := supportedFileTypes[fileType]; !ok {
		return nil, services.Wrap(services.ErrPermanent, "", "register document",
			fmt.Sprintf("unsupported file type %q", fileType), nil)
	}

	ref := uuid.NewString() + "/" + base
	size, err := o.objects.Put(ctx, ref, r)
	if err != nil {
		return nil, err
	}

	doc, err := o.store.CreateDocument(ctx, base, fileType, size, ref)
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, o.logger).Info("document registered",
		logging.String(logging.FieldDocumentID, doc.ID),
		logging.String("filename", base),
		logging.Int64("bytes", size))
	return doc, nil
}

// CreateJob creates a pending job for a document and enqueues it
// atomically. A missing document maps to ErrNotFound; an existing active
// job for the document maps to ErrConflict.
func (o *Orchestrator) CreateJob(ctx context.Context, documentID string) (*store.Job, error) {
	ctx = requestScope(ctx)
	job, err := o.store.CreateJob(ctx, documentID)
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, o.logger).Info("job created",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldDocumentID, documentID))
	return job, nil
}

// GetJob returns a job by id, ErrNotFound when it does not exist.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "get job", jobID, nil)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, filter store.JobFilter) ([]*store.Job, error) {
	return o.store.ListJobs(ctx, filter)
}

// CancelJob requests cancellation. Pending jobs cancel immediately and
// leave the queue; processing jobs get a cooperative flag the worker honors
// at its next checkpoint. Terminal jobs map to ErrConflict.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) (*store.Job, error) {
	ctx = requestScope(ctx)
	job, err := o.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case store.JobPending:
		ok, err := o.store.CancelPending(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if ok {
			logging.WithContext(ctx, o.logger).Info("pending job canceled", logging.String(logging.FieldJobID, jobID))
			return o.GetJob(ctx, jobID)
		}
		// Lost the race with a claim; fall through to the cooperative path
		// against the job's current state.
		return o.CancelJob(ctx, jobID)
	case store.JobProcessing:
		if _, err := o.store.MarkCancelRequested(ctx, jobID); err != nil {
			return nil, err
		}
		logging.WithContext(ctx, o.logger).Info("cancellation requested", logging.String(logging.FieldJobID, jobID))
		return o.GetJob(ctx, jobID)
	default:
		return nil, services.Wrap(services.ErrConflict, "", "cancel job",
			fmt.Sprintf("job is already %s", job.Status), nil)
	}
}

// GetExtractionForJob returns the committed extraction of a completed job.
func (o *Orchestrator) GetExtractionForJob(ctx context.Context, jobID string) (*store.Extraction, error) {
	if _, err := o.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	extraction, err := o.store.GetExtractionByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if extraction == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "get extraction", "no extraction for job "+jobID, nil)
	}
	return extraction, nil
}

// AnnotateExtraction updates the free-form notes on an extraction.
func (o *Orchestrator) AnnotateExtraction(ctx context.Context, extractionID, notes string) error {
	return o.store.AnnotateExtraction(ctx, extractionID, notes)
}

// UpdateProgress applies a token-guarded progress update. Stale tokens and
// regressions are silent no-ops.
func (o *Orchestrator) UpdateProgress(ctx context.Context, jobID, token string, percent float64) error {
	return o.store.UpdateProgress(ctx, jobID, token, percent)
}

// Health reports aggregate job counts and queue depth.
func (o *Orchestrator) Health(ctx context.Context) (store.HealthSummary, error) {
	return o.store.Health(ctx)
}
