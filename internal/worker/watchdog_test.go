package worker_test

import (
	"context"
	"testing"
	"time"

	"grist/internal/store"
	"grist/internal/testsupport"
	"grist/internal/worker"
)

func staleSettings(maxAttempts int) worker.WatchdogSettings {
	return worker.WatchdogSettings{
		Interval:       time.Hour, // sweeps are driven manually in tests
		Staleness:      time.Nanosecond,
		MaxJobAttempts: maxAttempts,
	}
}

// settleHeartbeat gives the claim's heartbeat timestamp time to fall behind
// the nanosecond staleness cutoff.
func settleHeartbeat() {
	time.Sleep(10 * time.Millisecond)
}

func TestWatchdogRequeuesLostJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	created := testsupport.NewJob(t, st)
	if _, _, ok, err := st.ClaimJob(ctx, created.ID); err != nil || !ok {
		t.Fatalf("ClaimJob: ok=%v err=%v", ok, err)
	}

	wd := worker.NewWatchdog(st, staleSettings(3), nil)
	settleHeartbeat()
	wd.Sweep(ctx)

	job, err := st.GetJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != store.JobPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}
	health, err := st.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Queued == 0 {
		t.Fatal("expected a fresh queued delivery")
	}
}

func TestWatchdogFailsJobAfterAttemptBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	created := testsupport.NewJob(t, st)
	if _, _, ok, err := st.ClaimJob(ctx, created.ID); err != nil || !ok {
		t.Fatalf("ClaimJob: ok=%v err=%v", ok, err)
	}

	wd := worker.NewWatchdog(st, staleSettings(1), nil)
	settleHeartbeat()
	wd.Sweep(ctx)

	job, err := st.GetJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != store.JobFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.ErrorMessage != "worker_lost: heartbeat expired" {
		t.Fatalf("error = %q", job.ErrorMessage)
	}
}

func TestWatchdogCancelsFlaggedLostJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	created := testsupport.NewJob(t, st)
	if _, _, ok, err := st.ClaimJob(ctx, created.ID); err != nil || !ok {
		t.Fatalf("ClaimJob: ok=%v err=%v", ok, err)
	}
	if ok, err := st.MarkCancelRequested(ctx, created.ID); err != nil || !ok {
		t.Fatalf("MarkCancelRequested: ok=%v err=%v", ok, err)
	}

	wd := worker.NewWatchdog(st, staleSettings(3), nil)
	settleHeartbeat()
	wd.Sweep(ctx)

	job, err := st.GetJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != store.JobCanceled {
		t.Fatalf("status = %s, want canceled", job.Status)
	}
}

func TestWatchdogLeavesLiveWorkersAlone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	created := testsupport.NewJob(t, st)
	if _, _, ok, err := st.ClaimJob(ctx, created.ID); err != nil || !ok {
		t.Fatalf("ClaimJob: ok=%v err=%v", ok, err)
	}

	wd := worker.NewWatchdog(st, worker.WatchdogSettings{
		Interval:       time.Hour,
		Staleness:      time.Hour,
		MaxJobAttempts: 3,
	}, nil)
	wd.Sweep(ctx)

	job, err := st.GetJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != store.JobProcessing {
		t.Fatalf("status = %s, want processing", job.Status)
	}
}
