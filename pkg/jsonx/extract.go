// Package jsonx extracts JSON payloads from LLM completions, which
// routinely wrap the JSON a caller asked for in prose or fenced code
// blocks instead of returning it bare.
package jsonx

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no JSON payload could be located in text.
var ErrNoJSON = errors.New("jsonx: no JSON payload found")

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// Extract locates and decodes a JSON value embedded in text, in this
// order: a fenced code block, then the first top-level object or array
// found by bracket-scanning, then failure. The target must be a pointer.
func Extract(text string, target any) error {
	raw, err := Locate(text)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(target); err != nil {
		// Decode reads only the first value, so text after it is already
		// ignored; a failed decode is retried once, reporting ErrNoJSON.
		return decodeTolerant(raw, target)
	}
	return nil
}

// Locate returns the raw JSON substring from text, trying fenced blocks
// first and falling back to bracket scanning.
func Locate(text string) (string, error) {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if candidate != "" {
			return candidate, nil
		}
	}
	if span := scanBrackets(text); span != "" {
		return span, nil
	}
	return "", ErrNoJSON
}

// scanBrackets finds the first balanced {...} or [...] span in text,
// whichever opening character appears first.
func scanBrackets(text string) string {
	objIdx := strings.IndexByte(text, '{')
	arrIdx := strings.IndexByte(text, '[')

	start := -1
	var open, close byte
	switch {
	case objIdx == -1 && arrIdx == -1:
		return ""
	case objIdx == -1:
		start, open, close = arrIdx, '[', ']'
	case arrIdx == -1:
		start, open, close = objIdx, '{', '}'
	case objIdx < arrIdx:
		start, open, close = objIdx, '{', '}'
	default:
		start, open, close = arrIdx, '[', ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// decodeTolerant decodes the first JSON value from raw, ignoring any
// trailing bytes a streaming provider response may have appended.
func decodeTolerant(raw string, target any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	if err := dec.Decode(target); err != nil {
		return ErrNoJSON
	}
	return nil
}
