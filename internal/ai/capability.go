package ai

import (
	"context"
	"encoding/json"
)

// Request is one logical unit of inference work, typically a single sheet.
type Request struct {
	SystemPrompt string
	UserPrompt   string
}

// Result carries the model's structured payload and its self-reported
// confidence in [0,1].
type Result struct {
	Payload    json.RawMessage
	Confidence float64
}

// Capability is the externally supplied AI inference dependency. Failures are
// tagged transient (rate limit, timeout, invalid response) so the extractor's
// retry policy can classify them; the capability itself never retries.
type Capability interface {
	Infer(ctx context.Context, req Request) (*Result, error)
}
