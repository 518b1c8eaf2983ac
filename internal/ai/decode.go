package ai

import (
	"encoding/json"
	"errors"
	"strings"
)

// DecodeModelJSON decodes model output into v, tolerating markdown code
// fences and leading prose some providers wrap around JSON payloads.
func DecodeModelJSON(content string, v any) error {
	cleaned := stripFences(content)
	if cleaned == "" {
		return errors.New("empty model payload")
	}
	return json.Unmarshal([]byte(cleaned), v)
}

func stripFences(content string) string {
	cleaned := strings.TrimSpace(content)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	// Tolerate prose before the first brace.
	if !strings.HasPrefix(cleaned, "{") && !strings.HasPrefix(cleaned, "[") {
		if idx := strings.IndexAny(cleaned, "{["); idx >= 0 {
			cleaned = cleaned[idx:]
		}
	}
	return cleaned
}
