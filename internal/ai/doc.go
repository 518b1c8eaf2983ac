// Package ai defines the inference capability the extract stage depends on
// and ships an HTTP client for OpenAI-compatible chat completion endpoints.
// The client is deliberately single-shot: retry policy, backoff, and the
// attempt budget belong to the pipeline, which wraps each call.
package ai
