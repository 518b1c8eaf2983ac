// Package logging centralizes slog construction and the structured field
// vocabulary used across the daemon. Components receive a *slog.Logger and
// attach standardized attributes (job_id, document_id, stage, worker_id)
// either directly or via WithContext, which lifts identifiers out of the
// request context.
package logging
