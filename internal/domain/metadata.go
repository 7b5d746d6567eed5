package domain

import (
	"encoding/json"
	"strings"
)

// ParseMetadata decodes the opaque participant metadata string.
// Anything that is not a JSON object yields nil.
func ParseMetadata(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
