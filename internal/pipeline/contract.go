package pipeline

import (
	"context"
	"encoding/json"
	"io"

	"grist/internal/ai"
)

// Sheet is one tabular unit of a parsed document. CSV documents produce a
// single synthetic sheet.
type Sheet struct {
	Name    string
	Columns []string
	Rows    []map[string]any
}

// ParsedDocument is the normalized output of the parse stage.
type ParsedDocument struct {
	Filename string
	Format   string
	Sheets   []Sheet
}

// FieldError describes a single validation failure tied to a JSON path.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of schema validation over extracted data.
type ValidationResult struct {
	Valid      bool         `json:"valid"`
	SchemaType string       `json:"schema_type"`
	Errors     []FieldError `json:"errors,omitempty"`
}

// Parser turns raw document bytes into a normalized sheet structure.
// Unsupported or corrupt inputs fail permanently.
type Parser interface {
	Parse(ctx context.Context, filename string, r io.Reader) (*ParsedDocument, error)
}

// Extractor produces structured data plus an aggregate confidence in [0,1]
// from a parsed document, using the supplied inference capability. The
// extractor owns the retry budget for transient inference failures.
type Extractor interface {
	Extract(ctx context.Context, doc *ParsedDocument, infer ai.Capability) (json.RawMessage, float64, error)
}

// Validator checks extracted data against a schema. Validation is local and
// never calls external services.
type Validator interface {
	Validate(ctx context.Context, data json.RawMessage) (*ValidationResult, error)
}
