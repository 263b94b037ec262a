package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeObject parses a model response into a JSON object. Models that
// ignore structured-output hints tend to wrap the object in a markdown
// fence or surround it with prose, so after a direct parse fails the
// text is stripped of fences and then scanned for the outermost
// balanced object.
func DecodeObject(raw string) (map[string]any, error) {
	var obj map[string]any

	s := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		return obj, nil
	}

	if stripped := stripFence(s); stripped != s {
		if err := json.Unmarshal([]byte(stripped), &obj); err == nil {
			return obj, nil
		}
		s = stripped
	}

	if candidate := outermostObject(s); candidate != "" {
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
			return obj, nil
		}
	}

	return nil, fmt.Errorf("response is not a JSON object: %s", truncate(raw, 120))
}

// stripFence removes a surrounding ```json ... ``` fence if present.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return s
	}
	body := s[nl+1:]
	if end := strings.LastIndex(body, "```"); end >= 0 {
		return strings.TrimSpace(body[:end])
	}
	return s
}

// outermostObject returns the first balanced {...} span in s, tracking
// strings so braces inside values do not confuse the count.
func outermostObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
				return s[start : i+1]
			}
		}
	}
	return ""
}
