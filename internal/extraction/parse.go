package extraction

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no JSON object can be recovered from a completion.
var ErrNoJSON = errors.New("extraction: completion contains no JSON object")

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ParseJSON decodes a JSON object from completion text. It tries the whole
// text, then every fenced code block, then the span from the first '{' to the
// last '}'.
func ParseJSON(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if obj, ok := decodeObject(text); ok {
		return obj, nil
	}
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		if obj, ok := decodeObject(strings.TrimSpace(m[1])); ok {
			return obj, nil
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if obj, ok := decodeObject(text[start : end+1]); ok {
			return obj, nil
		}
	}
	return nil, ErrNoJSON
}

func decodeObject(s string) (map[string]any, bool) {
	if s == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
