package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExtractionInput carries the pipeline output committed on job completion.
type ExtractionInput struct {
	ExtractedData     string
	ConfidenceScore   float64
	FormatType        string
	ValidationResults string
	Notes             string
}

// FinalizeSuccess writes the extraction row and transitions the job to
// completed in a single transaction, guarded by the claim token. ok is false
// when the guard fails — the job was already finalized (crash replay) or
// canceled — in which case nothing is written and the caller should simply
// acknowledge the delivery.
func (s *Store) FinalizeSuccess(ctx context.Context, jobID, token string, input ExtractionInput) (ok bool, err error) {
	ctx = ensureContext(ctx)
	now := formatTimestamp(time.Now())
	extractionID := uuid.NewString()

	if input.FormatType == "" {
		input.FormatType = "json"
	}

	err = retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin finalize tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, progress = 100, error_message = NULL,
                 last_heartbeat = NULL, cancel_requested = 0,
                 completed_at = ?, updated_at = ?
             WHERE id = ? AND status = ? AND claim_token = ?`,
			JobCompleted,
			now,
			now,
			jobID,
			JobProcessing,
			token,
		)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("finalize rows affected: %w", err)
		}
		if affected == 0 {
			ok = false
			return nil
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO extractions (id, job_id, document_id, extracted_data, confidence_score,
                                      format_type, validation_results, notes, extracted_at, updated_at)
             SELECT ?, ?, document_id, ?, ?, ?, ?, ?, ?, ? FROM jobs WHERE id = ?`,
			extractionID,
			jobID,
			input.ExtractedData,
			input.ConfidenceScore,
			input.FormatType,
			nullableString(input.ValidationResults),
			nullableString(input.Notes),
			now,
			now,
			jobID,
		); err != nil {
			return fmt.Errorf("insert extraction: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE documents SET status = ?, error_message = NULL, updated_at = ?
             WHERE id = (SELECT document_id FROM jobs WHERE id = ?)`,
			DocumentProcessed,
			now,
			jobID,
		); err != nil {
			return fmt.Errorf("mark document processed: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit finalize: %w", err)
		}
		ok = true
		return nil
	})
	return ok, err
}

// FinalizeFailure transitions a claimed job to failed with the collapsed
// error message. No extraction is written. The same token guard protects
// against duplicate deliveries; ok is false when the job is no longer held
// under token.
func (s *Store) FinalizeFailure(ctx context.Context, jobID, token, message string) (ok bool, err error) {
	return s.finalizeTerminal(ctx, jobID, token, JobFailed, message, DocumentError)
}

// FinalizeCanceled transitions a claimed job to canceled. Canceled jobs carry
// no error text and no extraction; the document returns to uploaded so it can
// be reprocessed.
func (s *Store) FinalizeCanceled(ctx context.Context, jobID, token string) (ok bool, err error) {
	return s.finalizeTerminal(ctx, jobID, token, JobCanceled, "", DocumentUploaded)
}

func (s *Store) finalizeTerminal(ctx context.Context, jobID, token string, status JobStatus, message string, docStatus DocumentStatus) (ok bool, err error) {
	ctx = ensureContext(ctx)
	now := formatTimestamp(time.Now())

	err = retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin finalize tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, error_message = ?, last_heartbeat = NULL,
                 cancel_requested = 0, completed_at = ?, updated_at = ?
             WHERE id = ? AND status = ? AND claim_token = ?`,
			status,
			nullableString(message),
			now,
			now,
			jobID,
			JobProcessing,
			token,
		)
		if err != nil {
			return fmt.Errorf("finalize job as %s: %w", status, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("finalize rows affected: %w", err)
		}
		if affected == 0 {
			ok = false
			return nil
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE documents SET status = ?, error_message = ?, updated_at = ?
             WHERE id = (SELECT document_id FROM jobs WHERE id = ?)`,
			docStatus,
			nullableString(message),
			now,
			jobID,
		); err != nil {
			return fmt.Errorf("mirror document status: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit finalize: %w", err)
		}
		ok = true
		return nil
	})
	return ok, err
}

// GetExtractionByJobID fetches the extraction committed for a completed job.
// A missing extraction returns (nil, nil).
func (s *Store) GetExtractionByJobID(ctx context.Context, jobID string) (*Extraction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+extractionColumns+` FROM extractions WHERE job_id = ?`, jobID)
	ext, err := scanExtraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get extraction: %w", err)
	}
	return ext, nil
}

// AnnotateExtraction updates the notes field, the only mutation an extraction
// admits after creation.
func (s *Store) AnnotateExtraction(ctx context.Context, extractionID, notes string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE extractions SET notes = ?, updated_at = ? WHERE id = ?`,
		nullableString(notes),
		formatTimestamp(time.Now()),
		extractionID,
	)
	if err != nil {
		return fmt.Errorf("annotate extraction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("annotate rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("extraction %s not found", extractionID)
	}
	return nil
}
