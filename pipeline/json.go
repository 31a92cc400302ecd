package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeModelJSON parses a JSON object out of raw model output. Models wrap
// JSON in markdown fences, lead with prose, and emit raw newlines inside
// string values; all three get repaired before giving up.
func decodeModelJSON[T any](raw string) (T, error) {
	var out T

	candidate := extractJSONObject(raw)
	if candidate == "" {
		return out, fmt.Errorf("no JSON object in model output")
	}

	if err := json.Unmarshal([]byte(candidate), &out); err == nil {
		return out, nil
	}

	repaired := escapeControlChars(candidate)
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return out, fmt.Errorf("parse model JSON: %w", err)
	}
	return out, nil
}

// extractJSONObject strips markdown fences and returns the text between the
// first '{' and the last '}'.
func extractJSONObject(raw string) string {
	text := strings.TrimSpace(raw)

	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		// Language tag on the fence line.
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			first := strings.TrimSpace(text[:nl])
			if first == "json" || first == "" {
				text = text[nl+1:]
			}
		}
		if end := strings.LastIndex(text, "```"); end >= 0 {
			text = text[:end]
		}
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// escapeControlChars walks the candidate JSON and escapes raw control
// characters that appear inside string literals. Everything outside strings
// is left alone.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for _, r := range s {
		if !inString {
			if r == '"' {
				inString = true
			}
			b.WriteRune(r)
			continue
		}
		if escaped {
			escaped = false
			b.WriteRune(r)
			continue
		}
		switch r {
		case '\\':
			escaped = true
			b.WriteRune(r)
		case '"':
			inString = false
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				b.WriteString(fmt.Sprintf(`\u%04x`, r))
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
