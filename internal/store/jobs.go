package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"grist/internal/services"
)

// CreateJob inserts a pending job for a document and enqueues its id in the
// same transaction, so the uniqueness check, the insert, and the enqueue are
// atomic. A missing document yields ErrNotFound; a second active job for the
// same document trips the partial unique index and yields ErrConflict.
func (s *Store) CreateJob(ctx context.Context, documentID string) (*Job, error) {
	ctx = ensureContext(ctx)
	id := uuid.NewString()
	timestamp := formatTimestamp(time.Now())

	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create job tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM documents WHERE id = ?`, documentID).Scan(&exists); err != nil {
			return fmt.Errorf("check document: %w", err)
		}
		if exists == 0 {
			return services.Wrap(services.ErrNotFound, "", "create job", "document "+documentID, nil)
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO jobs (id, document_id, status, progress, created_at, updated_at)
             VALUES (?, ?, ?, 0, ?, ?)`,
			id,
			documentID,
			JobPending,
			timestamp,
			timestamp,
		); err != nil {
			if IsUniqueViolation(err) {
				return services.Wrap(services.ErrConflict, "", "create job", "document "+documentID+" already has an active job", nil)
			}
			return fmt.Errorf("insert job: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO work_queue (job_id, enqueued_at, visible_at) VALUES (?, ?, ?)`,
			id,
			timestamp,
			timestamp,
		); err != nil {
			return fmt.Errorf("enqueue job: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier. A missing job returns (nil, nil).
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter ordered by creation time, newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.DocumentID != "" {
		clauses = append(clauses, "document_id = ?")
		args = append(args, filter.DocumentID)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJob attempts the atomic pending→processing transition, assigning a
// fresh attempt token. ok is false when another worker already holds the job
// or the job reached a terminal status — duplicate deliveries land here and
// must be acknowledged without side effects.
func (s *Store) ClaimJob(ctx context.Context, jobID string) (job *Job, token string, ok bool, err error) {
	ctx = ensureContext(ctx)
	token = uuid.NewString()
	now := formatTimestamp(time.Now())

	err = retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, claim_token = ?, attempts = attempts + 1,
                 progress = 0, error_message = NULL, last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			JobProcessing,
			token,
			now,
			now,
			jobID,
			JobPending,
		)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 0 {
			ok = false
			return nil
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE documents SET status = ?, updated_at = ?
             WHERE id = (SELECT document_id FROM jobs WHERE id = ?)`,
			DocumentProcessing,
			now,
			jobID,
		); err != nil {
			return fmt.Errorf("mark document processing: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim: %w", err)
		}
		ok = true
		return nil
	})
	if err != nil || !ok {
		return nil, "", false, err
	}
	job, err = s.GetJob(ctx, jobID)
	if err != nil {
		return nil, "", false, err
	}
	return job, token, true, nil
}

// UpdateProgress records pipeline progress for a claimed job. Stale tokens and
// regressions are silently ignored: a redelivered worker's late update must
// not disturb the current attempt, and progress never decreases.
func (s *Store) UpdateProgress(ctx context.Context, jobID, token string, percent float64) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET progress = ?, updated_at = ?
         WHERE id = ? AND claim_token = ? AND status = ? AND progress <= ?`,
		percent,
		formatTimestamp(time.Now()),
		jobID,
		token,
		JobProcessing,
		percent,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// Heartbeat refreshes the liveness timestamp for a claimed job.
func (s *Store) Heartbeat(ctx context.Context, jobID, token string) error {
	now := formatTimestamp(time.Now())
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND claim_token = ? AND status = ?`,
		now,
		now,
		jobID,
		token,
		JobProcessing,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// CancelPending atomically transitions a pending job to canceled and removes
// any queued deliveries. ok is false when the job is no longer pending (a
// worker won the race, or the job is already terminal).
func (s *Store) CancelPending(ctx context.Context, jobID string) (ok bool, err error) {
	ctx = ensureContext(ctx)
	now := formatTimestamp(time.Now())

	err = retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin cancel tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, completed_at = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			JobCanceled,
			now,
			now,
			jobID,
			JobPending,
		)
		if err != nil {
			return fmt.Errorf("cancel pending job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("cancel rows affected: %w", err)
		}
		if affected == 0 {
			ok = false
			return nil
		}

		// Best-effort dequeue. A worker that already holds a delivery will
		// fail its claim against the canceled status and simply acknowledge.
		if _, err := tx.ExecContext(ctx, `DELETE FROM work_queue WHERE job_id = ?`, jobID); err != nil {
			return fmt.Errorf("drop queued deliveries: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit cancel: %w", err)
		}
		ok = true
		return nil
	})
	return ok, err
}

// MarkCancelRequested sets the cooperative cancellation flag on a processing
// job. The owning worker observes the flag at the next stage boundary. ok is
// false when the job is not currently processing.
func (s *Store) MarkCancelRequested(ctx context.Context, jobID string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ?
         WHERE id = ? AND status = ?`,
		formatTimestamp(time.Now()),
		jobID,
		JobProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("mark cancel requested: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel flag rows affected: %w", err)
	}
	return affected > 0, nil
}

// CancelRequested reports whether cooperative cancellation has been requested
// for the job.
func (s *Store) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, jobID).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// StaleProcessing returns processing jobs whose heartbeat predates cutoff.
// These are crash candidates for the watchdog.
func (s *Store) StaleProcessing(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	cutoffRaw := formatTimestamp(cutoff)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE status = ?
           AND (last_heartbeat IS NULL OR last_heartbeat < ?)
           AND updated_at < ?
         ORDER BY updated_at`,
		JobProcessing,
		cutoffRaw,
		cutoffRaw,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale processing: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RequeueLost resets a crashed processing job to pending and enqueues a fresh
// delivery, guarded by the claim token observed during the stale sweep so a
// still-live worker is never preempted. ok is false when the guard fails.
func (s *Store) RequeueLost(ctx context.Context, jobID, token string) (ok bool, err error) {
	ctx = ensureContext(ctx)
	now := formatTimestamp(time.Now())

	err = retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin requeue tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, claim_token = NULL, progress = 0,
                 last_heartbeat = NULL, updated_at = ?
             WHERE id = ? AND status = ? AND claim_token = ?`,
			JobPending,
			now,
			jobID,
			JobProcessing,
			token,
		)
		if err != nil {
			return fmt.Errorf("reset lost job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("requeue rows affected: %w", err)
		}
		if affected == 0 {
			ok = false
			return nil
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO work_queue (job_id, enqueued_at, visible_at) VALUES (?, ?, ?)`,
			jobID,
			now,
			now,
		); err != nil {
			return fmt.Errorf("enqueue lost job: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit requeue: %w", err)
		}
		ok = true
		return nil
	})
	return ok, err
}
