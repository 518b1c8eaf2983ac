// Package workqueue implements the durable at-least-once delivery queue the
// worker pool consumes. Entries are job identifiers; a dequeued entry is
// hidden from other consumers for a visibility window and reappears if not
// acknowledged, which bounds the redelivery window after a worker crash.
// Exactly-once effects are the job store's responsibility (claim tokens and
// transactional finalize), not the queue's.
package workqueue
