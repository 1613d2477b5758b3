package llm

import (
	"errors"
	"strings"
)

// ErrNoJSON is returned when a reply contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in reply")

// ExtractJSONObject pulls the first balanced JSON object out of an LLM
// reply. Models routinely wrap structured output in markdown fences or
// prose; callers should unmarshal the returned slice and treat failures
// as a malformed reply.
func ExtractJSONObject(text string) ([]byte, error) {
	// Strip markdown fences first so fenced replies reduce to the raw body.
	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, ErrNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(text[start : i+1]), nil
			}
		}
	}
	return nil, ErrNoJSON
}
