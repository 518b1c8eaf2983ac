package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks lookups for documents, jobs, or extractions that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks invalid state transitions and duplicate active jobs.
	ErrConflict = errors.New("conflict")
	// ErrTransient marks retryable failures: AI timeouts, rate limits, network faults.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks failures that retrying cannot fix: unsupported formats,
	// corrupt files, schema mismatches.
	ErrPermanent = errors.New("permanent failure")
	// ErrStorage marks relational or object store infrastructure faults.
	ErrStorage = errors.New("storage error")
	// ErrQueue marks work queue infrastructure faults.
	ErrQueue = errors.New("queue error")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether the pipeline may retry the operation that
// produced err. Only transient failures qualify.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
