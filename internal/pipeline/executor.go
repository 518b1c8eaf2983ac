package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"grist/internal/ai"
	"grist/internal/logging"
	"grist/internal/services"
)

// Stage progress boundaries. Parsing covers the first segment, extraction
// the bulk of the middle, validation the tail.
const (
	progressParsed    = 30.0
	progressExtracted = 80.0
	progressDone      = 100.0
)

const cancelProbeInterval = 500 * time.Millisecond

// ProgressSink receives token-guarded progress updates. Stale tokens and
// regressions are silent no-ops at the sink.
type ProgressSink interface {
	UpdateProgress(ctx context.Context, jobID, token string, percent float64) error
}

// CancelProbe reports whether cooperative cancellation has been requested
// for a job.
type CancelProbe interface {
	CancelRequested(ctx context.Context, jobID string) (bool, error)
}

// Settings holds the per-stage execution budget and validation policy.
type Settings struct {
	ParseTimeout    time.Duration
	ExtractTimeout  time.Duration
	ValidateTimeout time.Duration
	FailOnInvalid   bool
}

// Outcome is the executor's terminal result. Exactly one of Canceled or the
// extraction fields is meaningful; the worker turns it into a single
// finalize call so no partial state is ever persisted.
type Outcome struct {
	Canceled      bool
	ExtractedData json.RawMessage
	Confidence    float64
	FormatType    string
	Validation    *ValidationResult
}

// Executor drives the strict parse, extract, validate stage order for one
// job. It owns stage timeouts and cancellation checks; persistence belongs
// to the caller.
type Executor struct {
	infer    ai.Capability
	progress ProgressSink
	cancels  CancelProbe
	settings Settings
	logger   *slog.Logger
}

func NewExecutor(infer ai.Capability, progress ProgressSink, cancels CancelProbe, settings Settings, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		infer:    infer,
		progress: progress,
		cancels:  cancels,
		settings: settings,
		logger:   logger,
	}
}

// Run executes the pipeline for one claimed job. A Canceled outcome means a
// cancellation request was observed at a stage boundary or inside the
// extract fan-out; errors carry the transient/permanent marker the worker
// uses to compose the job's failure message.
func (e *Executor) Run(ctx context.Context, jobID, token, subtype, filename string, caps Capabilities, r io.Reader) (*Outcome, error) {
	ctx = services.WithJobID(ctx, jobID)
	log := logging.WithContext(ctx, e.logger)

	if canceled, err := e.cancelRequested(ctx, jobID); err != nil {
		return nil, err
	} else if canceled {
		return &Outcome{Canceled: true}, nil
	}

	doc, err := e.runParse(ctx, caps.Parser, filename, r)
	if err != nil {
		return nil, err
	}
	e.report(ctx, log, jobID, token, progressParsed)

	if canceled, err := e.cancelRequested(ctx, jobID); err != nil {
		return nil, err
	} else if canceled {
		return &Outcome{Canceled: true}, nil
	}

	data, confidence, canceled, err := e.runExtract(ctx, caps.Extractor, jobID, doc)
	if err != nil {
		return nil, err
	}
	if canceled {
		return &Outcome{Canceled: true}, nil
	}
	e.report(ctx, log, jobID, token, progressExtracted)

	if canceled, err := e.cancelRequested(ctx, jobID); err != nil {
		return nil, err
	} else if canceled {
		return &Outcome{Canceled: true}, nil
	}

	validation, err := e.runValidate(ctx, caps.Validator, data)
	if err != nil {
		return nil, err
	}
	if !validation.Valid && e.settings.FailOnInvalid {
		detail := "schema validation failed"
		if len(validation.Errors) > 0 {
			detail = "schema validation failed: " + validation.Errors[0].Path + " " + validation.Errors[0].Message
		}
		return nil, services.Wrap(services.ErrPermanent, "validate", "schema", detail, nil)
	}
	e.report(ctx, log, jobID, token, progressDone)

	return &Outcome{
		ExtractedData: data,
		Confidence:    confidence,
		FormatType:    subtype,
		Validation:    validation,
	}, nil
}

func (e *Executor) runParse(ctx context.Context, parser Parser, filename string, r io.Reader) (*ParsedDocument, error) {
	ctx = services.WithStage(ctx, "parse")
	stageCtx, cancel := withTimeout(ctx, e.settings.ParseTimeout)
	defer cancel()

	doc, err := parser.Parse(stageCtx, filename, r)
	if err != nil {
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrPermanent, "parse", "timeout", "parse stage exceeded its time budget", err)
		}
		if errors.Is(err, services.ErrPermanent) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrPermanent, "parse", "read", "document could not be parsed", err)
	}
	return doc, nil
}

// runExtract runs the extract stage under its timeout while watching for a
// cooperative cancellation request. A request cancels the stage context so
// in-flight fan-out work stops promptly.
func (e *Executor) runExtract(ctx context.Context, extractor Extractor, jobID string, doc *ParsedDocument) (json.RawMessage, float64, bool, error) {
	ctx = services.WithStage(ctx, "extract")
	stageCtx, cancel := withTimeout(ctx, e.settings.ExtractTimeout)
	defer cancel()

	watchDone := make(chan struct{})
	watcherCtx, stopWatcher := context.WithCancel(ctx)
	defer stopWatcher()
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(cancelProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watcherCtx.Done():
				return
			case <-ticker.C:
				requested, err := e.cancels.CancelRequested(watcherCtx, jobID)
				if err == nil && requested {
					cancel()
					return
				}
			}
		}
	}()

	data, confidence, err := extractor.Extract(stageCtx, doc, e.infer)
	stopWatcher()
	<-watchDone

	if requested, probeErr := e.cancelRequested(ctx, jobID); probeErr == nil && requested {
		return nil, 0, true, nil
	}
	if err != nil {
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			return nil, 0, false, services.Wrap(services.ErrTransient, "extract", "timeout", "extract stage exceeded its time budget", err)
		}
		if errors.Is(err, services.ErrTransient) || errors.Is(err, services.ErrPermanent) {
			return nil, 0, false, err
		}
		return nil, 0, false, services.Wrap(services.ErrTransient, "extract", "inference", "extraction failed", err)
	}
	return data, confidence, false, nil
}

func (e *Executor) runValidate(ctx context.Context, validator Validator, data json.RawMessage) (*ValidationResult, error) {
	ctx = services.WithStage(ctx, "validate")
	stageCtx, cancel := withTimeout(ctx, e.settings.ValidateTimeout)
	defer cancel()

	result, err := validator.Validate(stageCtx, data)
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "validate", "schema", "validation could not run", err)
	}
	return result, nil
}

func (e *Executor) cancelRequested(ctx context.Context, jobID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, services.Wrap(services.ErrTransient, "", "pipeline", "execution context ended", err)
	}
	requested, err := e.cancels.CancelRequested(ctx, jobID)
	if err != nil {
		return false, err
	}
	return requested, nil
}

// report pushes a progress update. Progress is advisory; a stale token or a
// storage hiccup must not fail the pipeline.
func (e *Executor) report(ctx context.Context, log *slog.Logger, jobID, token string, percent float64) {
	if err := e.progress.UpdateProgress(ctx, jobID, token, percent); err != nil {
		log.Debug("progress update skipped", logging.Error(err), logging.Float64("percent", percent))
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
