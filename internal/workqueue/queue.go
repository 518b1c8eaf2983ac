package workqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultVisibilityTimeout = 2 * time.Minute
	defaultPollInterval      = 250 * time.Millisecond
)

// Delivery is a dequeued queue entry. It must be acknowledged once the job it
// references has been finalized (or found already finalized); otherwise the
// entry becomes visible again after the visibility timeout and is redelivered.
type Delivery struct {
	ID         int64
	JobID      string
	Deliveries int
}

// Queue is a durable, at-least-once work queue of job identifiers with
// visibility timeouts, backed by the same SQLite database as the job store so
// enqueues can share a transaction with job inserts.
type Queue struct {
	db           *sql.DB
	visibility   time.Duration
	pollInterval time.Duration
}

// Option customizes queue behavior.
type Option func(*Queue)

// WithVisibilityTimeout overrides how long a dequeued entry stays invisible.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.visibility = d
		}
	}
}

// WithPollInterval overrides the sleep between empty-queue polls.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// New wraps the shared database handle as a work queue.
func New(db *sql.DB, opts ...Option) *Queue {
	q := &Queue{
		db:           db,
		visibility:   defaultVisibilityTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a job identifier, immediately visible to consumers.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return errors.New("job id is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := retryOnBusy(ctx, func() error {
		_, err := q.db.ExecContext(
			ctx,
			`INSERT INTO work_queue (job_id, enqueued_at, visible_at) VALUES (?, ?, ?)`,
			jobID,
			now,
			now,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Dequeue claims the oldest visible entry, hiding it from other consumers for
// the visibility window. It polls until an entry appears, wait elapses, or
// ctx is done; an empty queue returns (nil, nil).
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	deadline := time.Now().Add(wait)
	for {
		delivery, err := q.tryDequeue(ctx)
		if err != nil {
			return nil, err
		}
		if delivery != nil {
			return delivery, nil
		}
		if wait <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *Queue) tryDequeue(ctx context.Context) (*Delivery, error) {
	var delivery *Delivery
	err := retryOnBusy(ctx, func() error {
		delivery = nil
		now := time.Now().UTC()
		nowRaw := now.Format(time.RFC3339Nano)

		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin dequeue tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var (
			id         int64
			jobID      string
			deliveries int
			visibleRaw string
		)
		row := tx.QueryRowContext(
			ctx,
			`SELECT id, job_id, deliveries, visible_at FROM work_queue
             WHERE visible_at <= ? ORDER BY id LIMIT 1`,
			nowRaw,
		)
		if err := row.Scan(&id, &jobID, &deliveries, &visibleRaw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("select visible entry: %w", err)
		}

		// CAS on visible_at so two consumers racing for the same entry
		// resolve to a single winner.
		res, err := tx.ExecContext(
			ctx,
			`UPDATE work_queue SET visible_at = ?, deliveries = deliveries + 1
             WHERE id = ? AND visible_at = ?`,
			now.Add(q.visibility).Format(time.RFC3339Nano),
			id,
			visibleRaw,
		)
		if err != nil {
			return fmt.Errorf("hide entry: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("dequeue rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit dequeue: %w", err)
		}
		delivery = &Delivery{ID: id, JobID: jobID, Deliveries: deliveries + 1}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return delivery, nil
}

// Ack removes a delivered entry permanently.
func (q *Queue) Ack(ctx context.Context, delivery *Delivery) error {
	if delivery == nil {
		return errors.New("delivery is nil")
	}
	err := retryOnBusy(ctx, func() error {
		_, err := q.db.ExecContext(ctx, `DELETE FROM work_queue WHERE id = ?`, delivery.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("ack delivery: %w", err)
	}
	return nil
}

// Depth returns the number of entries, visible or not.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var depth int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM work_queue`).Scan(&depth); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == 5 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
