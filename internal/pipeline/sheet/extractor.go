package sheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"grist/internal/ai"
	"grist/internal/logging"
	"grist/internal/pipeline"
	"grist/internal/services"
)

const systemPrompt = `You extract structured data from spreadsheet contents.
Respond with a single JSON object of the form
{"extracted_data": {...}, "confidence": <number between 0 and 1>}.
extracted_data holds every meaningful field you can identify, using
snake_case keys. Do not include explanations or markdown fences.`

// Rows beyond this count are elided from the prompt to bound request size.
const maxPromptRows = 200

// ExtractorOptions bounds the per-sheet inference fan-out and its retry
// budget for transient failures.
type ExtractorOptions struct {
	MaxAttempts    int
	RetryBase      time.Duration
	RetryMax       time.Duration
	MaxConcurrency int
}

func (o *ExtractorOptions) normalize() {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMax < o.RetryBase {
		o.RetryMax = o.RetryBase
	}
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = 1
	}
}

// Extractor runs one inference call per non-empty sheet and merges the
// results into a single payload with an aggregate confidence.
type Extractor struct {
	opts   ExtractorOptions
	logger *slog.Logger
}

func NewExtractor(opts ExtractorOptions, logger *slog.Logger) *Extractor {
	opts.normalize()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Extractor{opts: opts, logger: logger}
}

type sheetResult struct {
	name       string
	payload    json.RawMessage
	confidence float64
	fields     int
}

func (e *Extractor) Extract(ctx context.Context, doc *pipeline.ParsedDocument, infer ai.Capability) (json.RawMessage, float64, error) {
	if len(doc.Sheets) == 0 {
		return nil, 0, services.Wrap(services.ErrPermanent, "extract", "empty_document", "document contains no data rows", nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		results  = make([]sheetResult, len(doc.Sheets))
		slots    = make(chan struct{}, e.opts.MaxConcurrency)
	)

	for i, sh := range doc.Sheets {
		select {
		case slots <- struct{}{}:
		case <-runCtx.Done():
		}
		if runCtx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(idx int, sh pipeline.Sheet) {
			defer wg.Done()
			defer func() { <-slots }()

			result, err := e.extractSheet(runCtx, sh, infer)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			results[idx] = *result
		}(i, sh)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, 0, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return mergeResults(results)
}

// extractSheet retries transient inference failures with exponential
// backoff up to the configured attempt budget.
func (e *Extractor) extractSheet(ctx context.Context, sh pipeline.Sheet, infer ai.Capability) (*sheetResult, error) {
	req := ai.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildUserPrompt(sh),
	}
	log := e.logger.With(slog.String("sheet", sh.Name))

	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := infer.Infer(ctx, req)
		if err == nil {
			return &sheetResult{
				name:       sh.Name,
				payload:    result.Payload,
				confidence: result.Confidence,
				fields:     countFields(result.Payload),
			}, nil
		}
		lastErr = err
		if !errors.Is(err, services.ErrTransient) {
			return nil, err
		}
		if attempt == e.opts.MaxAttempts {
			break
		}
		delay := e.backoff(attempt)
		log.Warn("inference attempt failed",
			logging.Int("attempt", attempt),
			logging.Duration("retry_in", delay),
			logging.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, services.Wrap(services.ErrTransient, "extract", "inference",
		fmt.Sprintf("sheet %q failed after %d attempts", sh.Name, e.opts.MaxAttempts), lastErr)
}

func (e *Extractor) backoff(attempt int) time.Duration {
	delay := e.opts.RetryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= e.opts.RetryMax {
			return e.opts.RetryMax
		}
	}
	if delay > e.opts.RetryMax {
		delay = e.opts.RetryMax
	}
	return delay
}

func buildUserPrompt(sh pipeline.Sheet) string {
	rows := sh.Rows
	truncated := false
	if len(rows) > maxPromptRows {
		rows = rows[:maxPromptRows]
		truncated = true
	}
	body, err := json.Marshal(map[string]any{
		"sheet_name": sh.Name,
		"columns":    sh.Columns,
		"rows":       rows,
	})
	if err != nil {
		body = []byte(fmt.Sprintf("%+v", sh))
	}
	prompt := "Extract all structured data from this spreadsheet sheet:\n" + string(body)
	if truncated {
		prompt += fmt.Sprintf("\n(%d additional rows elided)", len(sh.Rows)-maxPromptRows)
	}
	return prompt
}

// countFields sizes a payload for confidence weighting. Non-object payloads
// count as a single field.
func countFields(payload json.RawMessage) int {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(payload, &object); err != nil {
		return 1
	}
	return len(object)
}

// mergeResults combines per-sheet payloads. A single sheet's payload is
// promoted to the top level; multiple sheets are keyed by sheet name. The
// aggregate confidence is the field-count-weighted mean of the sheet
// confidences.
func mergeResults(results []sheetResult) (json.RawMessage, float64, error) {
	var (
		weighted    float64
		totalFields int
		simpleSum   float64
	)
	for _, r := range results {
		weighted += r.confidence * float64(r.fields)
		totalFields += r.fields
		simpleSum += r.confidence
	}
	confidence := simpleSum / float64(len(results))
	if totalFields > 0 {
		confidence = weighted / float64(totalFields)
	}

	if len(results) == 1 {
		return results[0].payload, confidence, nil
	}
	merged := make(map[string]json.RawMessage, len(results))
	for _, r := range results {
		merged[r.name] = r.payload
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, 0, services.Wrap(services.ErrPermanent, "extract", "merge", "sheet results could not be merged", err)
	}
	return payload, confidence, nil
}
