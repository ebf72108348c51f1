package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSONObject is returned when a response contains no brace-delimited
// object at all.
var ErrNoJSONObject = errors.New("no JSON object found in response")

// ExtractJSON decodes the JSON object embedded in an LLM response into v.
// Responses are often wrapped in prose or ```json fences, so the substring
// between the first '{' and the last '}' of the trimmed text is tried
// first; if that fails the same extraction is retried on the raw text.
func ExtractJSON(raw string, v any) error {
	clean := strings.TrimSpace(raw)
	if strings.Contains(clean, "```") {
		if obj, ok := braceSpan(clean); ok {
			clean = obj
		}
	}

	firstErr := json.Unmarshal([]byte(clean), v)
	if firstErr == nil {
		return nil
	}

	obj, ok := braceSpan(raw)
	if !ok {
		return fmt.Errorf("%w: %v", ErrNoJSONObject, firstErr)
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("parse response JSON: %w", err)
	}
	return nil
}

func braceSpan(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return s[start : end+1], true
}
