package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"grist/internal/ai"
	"grist/internal/services"
)

type fakeParser struct {
	doc *ParsedDocument
	err error
}

func (p *fakeParser) Parse(context.Context, string, io.Reader) (*ParsedDocument, error) {
	return p.doc, p.err
}

type fakeExtractor struct {
	data json.RawMessage
	conf float64
	err  error
}

func (e *fakeExtractor) Extract(context.Context, *ParsedDocument, ai.Capability) (json.RawMessage, float64, error) {
	return e.data, e.conf, e.err
}

type fakeValidator struct {
	result *ValidationResult
	err    error
}

func (v *fakeValidator) Validate(context.Context, json.RawMessage) (*ValidationResult, error) {
	return v.result, v.err
}

type recordingSink struct {
	mu       sync.Mutex
	percents []float64
}

func (s *recordingSink) UpdateProgress(_ context.Context, _, _ string, percent float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.percents = append(s.percents, percent)
	return nil
}

type fakeProbe struct {
	mu        sync.Mutex
	requested bool
	// cancelAfter flips requested after this many probes, 0 disables.
	cancelAfter int
	calls       int
}

func (p *fakeProbe) CancelRequested(context.Context, string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.cancelAfter > 0 && p.calls >= p.cancelAfter {
		p.requested = true
	}
	return p.requested, nil
}

func defaultCaps(parser Parser, extractor Extractor, validator Validator) Capabilities {
	return Capabilities{Parser: parser, Extractor: extractor, Validator: validator}
}

func testSettings() Settings {
	return Settings{
		ParseTimeout:    time.Second,
		ExtractTimeout:  5 * time.Second,
		ValidateTimeout: time.Second,
	}
}

func TestExecutorRunsStagesInOrder(t *testing.T) {
	sink := &recordingSink{}
	probe := &fakeProbe{}
	caps := defaultCaps(
		&fakeParser{doc: &ParsedDocument{Format: "xlsx", Sheets: []Sheet{{Name: "Sheet1"}}}},
		&fakeExtractor{data: json.RawMessage(`{"invoice_number":"INV-1"}`), conf: 0.9},
		&fakeValidator{result: &ValidationResult{Valid: true, SchemaType: "invoice"}},
	)
	exec := NewExecutor(nil, sink, probe, testSettings(), nil)

	outcome, err := exec.Run(context.Background(), "job-1", "tok", "xlsx", "a.xlsx", caps, strings.NewReader("raw"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Canceled {
		t.Fatal("unexpected cancellation")
	}
	if outcome.Confidence != 0.9 {
		t.Fatalf("confidence = %v", outcome.Confidence)
	}
	if outcome.Validation == nil || !outcome.Validation.Valid {
		t.Fatalf("validation = %+v", outcome.Validation)
	}
	want := []float64{30, 80, 100}
	if len(sink.percents) != len(want) {
		t.Fatalf("progress updates = %v", sink.percents)
	}
	for i, p := range want {
		if sink.percents[i] != p {
			t.Fatalf("progress[%d] = %v, want %v", i, sink.percents[i], p)
		}
	}
}

func TestExecutorParseFailureIsPermanent(t *testing.T) {
	caps := defaultCaps(
		&fakeParser{err: errors.New("zip: not a valid zip file")},
		&fakeExtractor{},
		&fakeValidator{},
	)
	exec := NewExecutor(nil, &recordingSink{}, &fakeProbe{}, testSettings(), nil)

	_, err := exec.Run(context.Background(), "job-1", "tok", "xlsx", "a.xlsx", caps, strings.NewReader("raw"))
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestExecutorExtractFailureStaysTransient(t *testing.T) {
	caps := defaultCaps(
		&fakeParser{doc: &ParsedDocument{Sheets: []Sheet{{Name: "Sheet1"}}}},
		&fakeExtractor{err: services.Wrap(services.ErrTransient, "extract", "inference", "rate_limited", nil)},
		&fakeValidator{},
	)
	exec := NewExecutor(nil, &recordingSink{}, &fakeProbe{}, testSettings(), nil)

	_, err := exec.Run(context.Background(), "job-1", "tok", "xlsx", "a.xlsx", caps, strings.NewReader("raw"))
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestExecutorCancelBeforeParse(t *testing.T) {
	probe := &fakeProbe{requested: true}
	caps := defaultCaps(&fakeParser{doc: &ParsedDocument{}}, &fakeExtractor{}, &fakeValidator{})
	exec := NewExecutor(nil, &recordingSink{}, probe, testSettings(), nil)

	outcome, err := exec.Run(context.Background(), "job-1", "tok", "xlsx", "a.xlsx", caps, strings.NewReader("raw"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.Canceled {
		t.Fatal("expected canceled outcome")
	}
}

func TestExecutorCancelBetweenStages(t *testing.T) {
	// First probe (before parse) passes, second (before extract) cancels.
	probe := &fakeProbe{cancelAfter: 2}
	sink := &recordingSink{}
	caps := defaultCaps(
		&fakeParser{doc: &ParsedDocument{Sheets: []Sheet{{Name: "Sheet1"}}}},
		&fakeExtractor{data: json.RawMessage(`{}`)},
		&fakeValidator{result: &ValidationResult{Valid: true}},
	)
	exec := NewExecutor(nil, sink, probe, testSettings(), nil)

	outcome, err := exec.Run(context.Background(), "job-1", "tok", "xlsx", "a.xlsx", caps, strings.NewReader("raw"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.Canceled {
		t.Fatal("expected canceled outcome")
	}
	if len(sink.percents) != 1 || sink.percents[0] != 30 {
		t.Fatalf("progress updates = %v, want just the parse boundary", sink.percents)
	}
}

func TestExecutorFailOnInvalidPolicy(t *testing.T) {
	caps := defaultCaps(
		&fakeParser{doc: &ParsedDocument{Sheets: []Sheet{{Name: "Sheet1"}}}},
		&fakeExtractor{data: json.RawMessage(`{}`), conf: 0.5},
		&fakeValidator{result: &ValidationResult{
			Valid:      false,
			SchemaType: "invoice",
			Errors:     []FieldError{{Path: "$.invoice_number", Message: "required field missing"}},
		}},
	)

	settings := testSettings()
	exec := NewExecutor(nil, &recordingSink{}, &fakeProbe{}, settings, nil)
	outcome, err := exec.Run(context.Background(), "job-1", "tok", "xlsx", "a.xlsx", caps, strings.NewReader("raw"))
	if err != nil {
		t.Fatalf("annotate-only policy should complete: %v", err)
	}
	if outcome.Validation.Valid {
		t.Fatal("expected invalid validation result")
	}

	settings.FailOnInvalid = true
	exec = NewExecutor(nil, &recordingSink{}, &fakeProbe{}, settings, nil)
	_, err = exec.Run(context.Background(), "job-1", "tok", "xlsx", "a.xlsx", caps, strings.NewReader("raw"))
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent validation failure, got %v", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	caps := defaultCaps(&fakeParser{}, &fakeExtractor{}, &fakeValidator{})
	if err := reg.Register("XLSX", caps); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register("xlsx", caps); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if _, ok := reg.Lookup("xlsx"); !ok {
		t.Fatal("expected lookup hit for registered subtype")
	}
	if _, ok := reg.Lookup("pdf"); ok {
		t.Fatal("expected lookup miss for unregistered subtype")
	}
}
