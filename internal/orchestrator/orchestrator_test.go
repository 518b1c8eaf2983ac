package orchestrator_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"grist/internal/objectstore"
	"grist/internal/orchestrator"
	"grist/internal/services"
	"grist/internal/store"
	"grist/internal/testsupport"
)

func newOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *store.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	objects, err := objectstore.NewFS(cfg.Paths.DocumentsDir)
	if err != nil {
		t.Fatalf("objectstore.NewFS: %v", err)
	}
	return orchestrator.New(st, objects, nil), st
}

func TestRegisterDocumentStoresBytes(t *testing.T) {
	orch, _ := newOrchestrator(t)
	ctx := context.Background()

	doc, err := orch.RegisterDocument(ctx, "/tmp/upload/Invoices.XLSX", strings.NewReader("workbook-bytes"))
	if err != nil {
		t.Fatalf("RegisterDocument: %v", err)
	}
	if doc.Filename != "Invoices.XLSX" || doc.FileType != "xlsx" {
		t.Fatalf("doc = %+v", doc)
	}
	if doc.FileSize != int64(len("workbook-bytes")) {
		t.Fatalf("size = %d", doc.FileSize)
	}
	if doc.Status != store.DocumentUploaded {
		t.Fatalf("status = %s", doc.Status)
	}
}

func TestMutationsLogCorrelationID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	objects, err := objectstore.NewFS(cfg.Paths.DocumentsDir)
	if err != nil {
		t.Fatalf("objectstore.NewFS: %v", err)
	}
	var buf bytes.Buffer
	orch := orchestrator.New(st, objects, slog.New(slog.NewTextHandler(&buf, nil)))

	ctx := services.WithRequestID(context.Background(), "req-observability")
	doc, err := orch.RegisterDocument(ctx, "invoice.csv", strings.NewReader("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("RegisterDocument: %v", err)
	}
	if _, err := orch.CreateJob(ctx, doc.ID); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	out := buf.String()
	if count := strings.Count(out, "correlation_id=req-observability"); count != 2 {
		t.Fatalf("correlation id appeared %d times, want 2:\n%s", count, out)
	}
}

func TestRegisterDocumentRejectsUnknownType(t *testing.T) {
	orch, _ := newOrchestrator(t)
	_, err := orch.RegisterDocument(context.Background(), "scan.pdf", strings.NewReader("%PDF"))
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestCreateJobSemantics(t *testing.T) {
	orch, _ := newOrchestrator(t)
	ctx := context.Background()

	if _, err := orch.CreateJob(ctx, "missing-doc"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	doc, err := orch.RegisterDocument(ctx, "a.csv", strings.NewReader("x,y\n1,2\n"))
	if err != nil {
		t.Fatalf("RegisterDocument: %v", err)
	}
	job, err := orch.CreateJob(ctx, doc.ID)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != store.JobPending || job.Progress != 0 {
		t.Fatalf("job = %+v", job)
	}
	if _, err := orch.CreateJob(ctx, doc.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCancelJobPaths(t *testing.T) {
	orch, st := newOrchestrator(t)
	ctx := context.Background()

	if _, err := orch.CancelJob(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	doc, err := orch.RegisterDocument(ctx, "a.csv", strings.NewReader("x\n1\n"))
	if err != nil {
		t.Fatalf("RegisterDocument: %v", err)
	}
	pendingJob, err := orch.CreateJob(ctx, doc.ID)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	canceled, err := orch.CancelJob(ctx, pendingJob.ID)
	if err != nil {
		t.Fatalf("CancelJob pending: %v", err)
	}
	if canceled.Status != store.JobCanceled {
		t.Fatalf("status = %s", canceled.Status)
	}

	// Canceled is terminal: a second cancel conflicts.
	if _, err := orch.CancelJob(ctx, pendingJob.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// A processing job only gets the cooperative flag.
	nextJob, err := orch.CreateJob(ctx, doc.ID)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, _, ok, err := st.ClaimJob(ctx, nextJob.ID); err != nil || !ok {
		t.Fatalf("ClaimJob: ok=%v err=%v", ok, err)
	}
	flagged, err := orch.CancelJob(ctx, nextJob.ID)
	if err != nil {
		t.Fatalf("CancelJob processing: %v", err)
	}
	if flagged.Status != store.JobProcessing || !flagged.CancelRequested {
		t.Fatalf("job = %+v", flagged)
	}
}

func TestGetExtractionForJob(t *testing.T) {
	orch, st := newOrchestrator(t)
	ctx := context.Background()

	doc, err := orch.RegisterDocument(ctx, "a.csv", strings.NewReader("x\n1\n"))
	if err != nil {
		t.Fatalf("RegisterDocument: %v", err)
	}
	job, err := orch.CreateJob(ctx, doc.ID)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if _, err := orch.GetExtractionForJob(ctx, job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before completion, got %v", err)
	}

	_, token, ok, err := st.ClaimJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("ClaimJob: ok=%v err=%v", ok, err)
	}
	if ok, err := st.FinalizeSuccess(ctx, job.ID, token, store.ExtractionInput{
		ExtractedData:   `{"total_amount":5}`,
		ConfidenceScore: 0.7,
	}); err != nil || !ok {
		t.Fatalf("FinalizeSuccess: ok=%v err=%v", ok, err)
	}

	extraction, err := orch.GetExtractionForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetExtractionForJob: %v", err)
	}
	if extraction.JobID != job.ID || extraction.ConfidenceScore != 0.7 {
		t.Fatalf("extraction = %+v", extraction)
	}
}
