// Package store persists documents, extraction jobs, and their results in
// SQLite, and owns every cross-worker coordination primitive: the atomic
// claim (pending→processing with a fresh attempt token), token-guarded
// progress and heartbeat updates, and the transactional finalize that commits
// an extraction together with the terminal status. The work_queue table lives
// in the same database so job creation and enqueue share one transaction; the
// workqueue package drives delivery semantics over the shared handle.
//
// Treat this package as the single source of truth for job lifecycle
// semantics; when you add statuses or columns, update schema.sql and bump
// schemaVersion.
package store
