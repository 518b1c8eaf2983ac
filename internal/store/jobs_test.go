package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grist/internal/services"
	"grist/internal/store"
	"grist/internal/testsupport"
)

func TestCreateJobRequiresDocument(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, err := st.CreateJob(context.Background(), "no-such-document")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateJobActiveConflict(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	doc := testsupport.NewDocument(t, st, "a.xlsx", "xlsx")

	first, err := st.CreateJob(ctx, doc.ID)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := st.CreateJob(ctx, doc.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict for second active job, got %v", err)
	}

	// Conflict persists through processing.
	if _, _, ok, err := st.ClaimJob(ctx, first.ID); err != nil || !ok {
		t.Fatalf("ClaimJob: ok=%v err=%v", ok, err)
	}
	if _, err := st.CreateJob(ctx, doc.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict while processing, got %v", err)
	}

	// A terminal job releases the document for a new run.
	job, _ := st.GetJob(ctx, first.ID)
	if ok, err := st.FinalizeFailure(ctx, first.ID, job.ClaimToken, "parse: corrupt_file"); err != nil || !ok {
		t.Fatalf("FinalizeFailure: ok=%v err=%v", ok, err)
	}
	if _, err := st.CreateJob(ctx, doc.ID); err != nil {
		t.Fatalf("CreateJob after terminal: %v", err)
	}
}

func TestClaimJobSingleWinner(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	job := testsupport.NewJob(t, st)

	const claimers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, ok, err := st.ClaimJob(context.Background(), job.ID)
			if err != nil {
				t.Errorf("ClaimJob: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("claim winners = %d, want exactly 1", wins)
	}
	claimed, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if claimed.Status != store.JobProcessing || claimed.Attempts != 1 {
		t.Fatalf("job after claims: status=%s attempts=%d", claimed.Status, claimed.Attempts)
	}
}

func TestUpdateProgressGuards(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	created := testsupport.NewJob(t, st)

	_, token, ok, err := st.ClaimJob(ctx, created.ID)
	if err != nil || !ok {
		t.Fatalf("ClaimJob: ok=%v err=%v", ok, err)
	}

	if err := st.UpdateProgress(ctx, created.ID, token, 30); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	// A regression and a stale token are both silent no-ops.
	if err := st.UpdateProgress(ctx, created.ID, token, 10); err != nil {
		t.Fatalf("regressing update errored: %v", err)
	}
	if err := st.UpdateProgress(ctx, created.ID, "stale-token", 90); err != nil {
		t.Fatalf("stale-token update errored: %v", err)
	}

	job, err := st.GetJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Progress != 30 {
		t.Fatalf("progress = %v, want 30", job.Progress)
	}
}

func TestCancelPendingRemovesDelivery(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	job := testsupport.NewJob(t, st)

	ok, err := st.CancelPending(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("CancelPending: ok=%v err=%v", ok, err)
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != store.JobCanceled {
		t.Fatalf("status = %s, want canceled", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at on canceled job")
	}

	health, err := st.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Queued != 0 {
		t.Fatalf("queued deliveries = %d, want 0", health.Queued)
	}

	// Terminal states are immutable.
	if ok, err := st.CancelPending(ctx, job.ID); err != nil || ok {
		t.Fatalf("second cancel: ok=%v err=%v", ok, err)
	}
	if _, _, ok, err := st.ClaimJob(ctx, job.ID); err != nil || ok {
		t.Fatalf("claim of canceled job: ok=%v err=%v", ok, err)
	}
}

func TestCancelLosesRaceToClaim(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	job := testsupport.NewJob(t, st)

	if _, _, ok, err := st.ClaimJob(ctx, job.ID); err != nil || !ok {
		t.Fatalf("ClaimJob: ok=%v err=%v", ok, err)
	}

	if ok, err := st.CancelPending(ctx, job.ID); err != nil || ok {
		t.Fatalf("CancelPending after claim: ok=%v err=%v", ok, err)
	}

	// The cooperative path still works.
	flagged, err := st.MarkCancelRequested(ctx, job.ID)
	if err != nil || !flagged {
		t.Fatalf("MarkCancelRequested: ok=%v err=%v", flagged, err)
	}
	requested, err := st.CancelRequested(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelRequested: %v", err)
	}
	if !requested {
		t.Fatal("expected cancel flag to be set")
	}
}

func TestRequeueLostResetsClaim(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	job := testsupport.NewJob(t, st)

	_, lostToken, ok, err := st.ClaimJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("ClaimJob: ok=%v err=%v", ok, err)
	}

	stale, err := st.StaleProcessing(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("StaleProcessing: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != job.ID {
		t.Fatalf("stale = %+v", stale)
	}

	ok, err = st.RequeueLost(ctx, job.ID, lostToken)
	if err != nil || !ok {
		t.Fatalf("RequeueLost: ok=%v err=%v", ok, err)
	}

	requeued, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if requeued.Status != store.JobPending || requeued.Progress != 0 {
		t.Fatalf("after requeue: status=%s progress=%v", requeued.Status, requeued.Progress)
	}

	// The old attempt's token is dead: its late finalize must not land.
	if ok, err := st.FinalizeFailure(ctx, job.ID, lostToken, "late"); err != nil || ok {
		t.Fatalf("late finalize: ok=%v err=%v", ok, err)
	}

	_, freshToken, ok, err := st.ClaimJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("reclaim: ok=%v err=%v", ok, err)
	}
	if freshToken == lostToken {
		t.Fatal("expected a fresh claim token per attempt")
	}
	reclaimed, _ := st.GetJob(ctx, job.ID)
	if reclaimed.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", reclaimed.Attempts)
	}
}

func TestListJobsFilters(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	docA := testsupport.NewDocument(t, st, "a.xlsx", "xlsx")
	docB := testsupport.NewDocument(t, st, "b.csv", "csv")
	jobA, err := st.CreateJob(ctx, docA.ID)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := st.CreateJob(ctx, docB.ID); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, _, ok, err := st.ClaimJob(ctx, jobA.ID); err != nil || !ok {
		t.Fatalf("ClaimJob: ok=%v err=%v", ok, err)
	}

	pending, err := st.ListJobs(ctx, store.JobFilter{Status: store.JobPending})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(pending) != 1 || pending[0].DocumentID != docB.ID {
		t.Fatalf("pending = %+v", pending)
	}

	forA, err := st.ListJobs(ctx, store.JobFilter{DocumentID: docA.ID})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(forA) != 1 || forA[0].ID != jobA.ID {
		t.Fatalf("forA = %+v", forA)
	}
}
