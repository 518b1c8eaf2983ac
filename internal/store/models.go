package store

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle of an extraction job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCanceled   JobStatus = "canceled"
)

// DocumentStatus mirrors the outcome of a document's most recent job.
type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "uploaded"
	DocumentProcessing DocumentStatus = "processing"
	DocumentProcessed  DocumentStatus = "processed"
	DocumentError      DocumentStatus = "error"
)

var allJobStatuses = []JobStatus{
	JobPending,
	JobProcessing,
	JobCompleted,
	JobFailed,
	JobCanceled,
}

var jobStatusSet = func() map[JobStatus]struct{} {
	set := make(map[JobStatus]struct{}, len(allJobStatuses))
	for _, status := range allJobStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllJobStatuses returns the ordered list of known job statuses.
func AllJobStatuses() []JobStatus {
	cp := make([]JobStatus, len(allJobStatuses))
	copy(cp, allJobStatuses)
	return cp
}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := jobStatusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a job status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// Document represents an uploaded file registered for extraction.
type Document struct {
	ID           string
	Filename     string
	FileType     string
	FileSize     int64
	StorageRef   string
	Status       DocumentStatus
	ErrorMessage string
	UploadedAt   time.Time
	UpdatedAt    time.Time
}

// Job tracks a single extraction run against a document.
type Job struct {
	ID              string
	DocumentID      string
	Status          JobStatus
	Progress        float64
	ClaimToken      string
	Attempts        int
	CancelRequested bool
	ErrorMessage    string
	LastHeartbeat   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// Extraction holds the structured result committed when a job completes.
// ExtractedData and ValidationResults are stored as raw JSON.
type Extraction struct {
	ID                string
	JobID             string
	DocumentID        string
	ExtractedData     string
	ConfidenceScore   float64
	FormatType        string
	ValidationResults string
	Notes             string
	ExtractedAt       time.Time
	UpdatedAt         time.Time
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Status     JobStatus
	DocumentID string
	Limit      int
	Offset     int
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Canceled   int
	Queued     int
}
