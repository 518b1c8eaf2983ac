package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Capabilities bundles the stage implementations for one document subtype.
type Capabilities struct {
	Parser    Parser
	Extractor Extractor
	Validator Validator
}

// Registry maps document subtypes (xlsx, csv) to their pipeline
// capabilities. It is assembled once at startup and read-only afterward.
type Registry struct {
	entries map[string]Capabilities
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Capabilities)}
}

// Register binds a subtype to its capabilities. All three stages are
// required.
func (r *Registry) Register(subtype string, caps Capabilities) error {
	subtype = strings.ToLower(strings.TrimSpace(subtype))
	if subtype == "" {
		return fmt.Errorf("register pipeline: subtype is required")
	}
	if caps.Parser == nil || caps.Extractor == nil || caps.Validator == nil {
		return fmt.Errorf("register pipeline %s: parser, extractor, and validator are all required", subtype)
	}
	if _, exists := r.entries[subtype]; exists {
		return fmt.Errorf("register pipeline %s: already registered", subtype)
	}
	r.entries[subtype] = caps
	return nil
}

// Lookup returns the capabilities for a subtype, or ok=false when the
// subtype has no registered pipeline.
func (r *Registry) Lookup(subtype string) (Capabilities, bool) {
	caps, ok := r.entries[strings.ToLower(strings.TrimSpace(subtype))]
	return caps, ok
}

// Subtypes lists the registered subtypes in sorted order.
func (r *Registry) Subtypes() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
