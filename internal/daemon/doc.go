// Package daemon assembles the extraction service: store, queue, pipeline
// registry, worker pool, and watchdog, under flock-based single-instance
// locking.
package daemon
