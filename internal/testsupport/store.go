package testsupport

import (
	"context"
	"testing"

	"grist/internal/config"
	"grist/internal/store"
)

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewDocument registers a document record for tests.
func NewDocument(t testing.TB, st *store.Store, filename, fileType string) *store.Document {
	t.Helper()

	doc, err := st.CreateDocument(context.Background(), filename, fileType, 1024, "test/"+filename)
	if err != nil {
		t.Fatalf("store.CreateDocument: %v", err)
	}
	return doc
}

// NewJob creates a pending job for a fresh document.
func NewJob(t testing.TB, st *store.Store) *store.Job {
	t.Helper()

	doc := NewDocument(t, st, "fixture.xlsx", "xlsx")
	job, err := st.CreateJob(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}
