package usecases

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON pulls the outermost JSON value delimited by open/close out of
// free-form model text. Markdown code fences are tolerated.
func extractJSON(text string, open, close byte) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no %c...%c block found", ErrMalformedModelOutput, open, close)
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", fmt.Errorf("%w: invalid JSON", ErrMalformedModelOutput)
	}
	return candidate, nil
}
