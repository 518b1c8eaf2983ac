// Package worker runs the job-processing pool over the durable queue and
// the watchdog that recovers work lost to dead workers.
package worker
