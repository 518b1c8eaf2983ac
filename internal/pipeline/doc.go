// Package pipeline defines the stage contract for document extraction and
// the executor that drives parse, extract, and validate in strict order
// with per-stage timeouts and cooperative cancellation.
package pipeline
