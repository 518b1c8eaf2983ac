package store

import (
	"database/sql"
	"strings"
	"time"
)

const documentColumns = "id, filename, file_type, file_size, storage_ref, status, error_message, uploaded_at, updated_at"

const jobColumns = "id, document_id, status, progress, claim_token, attempts, cancel_requested, error_message, last_heartbeat, created_at, updated_at, completed_at"

const extractionColumns = "id, job_id, document_id, extracted_data, confidence_score, format_type, validation_results, notes, extracted_at, updated_at"

type rowScanner interface{ Scan(dest ...any) error }

func scanDocument(scanner rowScanner) (*Document, error) {
	var (
		doc          Document
		status       string
		errorMessage sql.NullString
		uploadedRaw  string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&doc.ID,
		&doc.Filename,
		&doc.FileType,
		&doc.FileSize,
		&doc.StorageRef,
		&status,
		&errorMessage,
		&uploadedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	doc.Status = DocumentStatus(status)
	doc.ErrorMessage = errorMessage.String
	doc.UploadedAt = parseTimestamp(uploadedRaw)
	doc.UpdatedAt = parseTimestamp(updatedRaw)
	return &doc, nil
}

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job           Job
		status        string
		claimToken    sql.NullString
		cancelFlag    int64
		errorMessage  sql.NullString
		heartbeatRaw  sql.NullString
		createdRaw    string
		updatedRaw    string
		completedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.DocumentID,
		&status,
		&job.Progress,
		&claimToken,
		&job.Attempts,
		&cancelFlag,
		&errorMessage,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.ClaimToken = claimToken.String
	job.CancelRequested = cancelFlag != 0
	job.ErrorMessage = errorMessage.String
	job.LastHeartbeat = parseNullableTimestamp(heartbeatRaw)
	job.CreatedAt = parseTimestamp(createdRaw)
	job.UpdatedAt = parseTimestamp(updatedRaw)
	job.CompletedAt = parseNullableTimestamp(completedRaw)
	return &job, nil
}

func scanExtraction(scanner rowScanner) (*Extraction, error) {
	var (
		ext          Extraction
		validation   sql.NullString
		notes        sql.NullString
		extractedRaw string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&ext.ID,
		&ext.JobID,
		&ext.DocumentID,
		&ext.ExtractedData,
		&ext.ConfidenceScore,
		&ext.FormatType,
		&validation,
		&notes,
		&extractedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	ext.ValidationResults = validation.String
	ext.Notes = notes.String
	ext.ExtractedAt = parseTimestamp(extractedRaw)
	ext.UpdatedAt = parseTimestamp(updatedRaw)
	return &ext, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func formatTimestamp(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func parseNullableTimestamp(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	parsed := parseTimestamp(raw.String)
	if parsed.IsZero() {
		return nil
	}
	return &parsed
}
