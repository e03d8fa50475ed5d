package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a response holds no JSON value.
var ErrNoJSON = errors.New("ai: no JSON found in response")

// ExtractJSON pulls the first valid JSON object or array out of an LLM
// response. Markdown fences and surrounding prose are ignored, brackets in
// the prose are skipped, trailing commas are dropped and a value cut off
// mid-way is closed.
func ExtractJSON(text string) (string, error) {
	s := stripFence(text)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}
	first := ""
	for start >= 0 {
		fixed := removeTrailingCommas(scanValue(s[start:]))
		if json.Valid([]byte(fixed)) {
			return fixed, nil
		}
		if first == "" {
			first = fixed
		}
		next := strings.IndexAny(s[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", fmt.Errorf("ai: malformed JSON: %.80q", first)
}

// DecodeJSON extracts and unmarshals a JSON value into v.
func DecodeJSON(text string, v any) error {
	s, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("ai: decode JSON: %w", err)
	}
	return nil
}

func stripFence(text string) string {
	s := strings.TrimSpace(text)
	i := strings.Index(s, "```")
	if i < 0 {
		return s
	}
	body := s[i+3:]
	// drop the language tag line, e.g. ```json
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	}
	if j := strings.Index(body, "```"); j >= 0 {
		body = body[:j]
	}
	return strings.TrimSpace(body)
}

// scanValue returns the balanced value at the start of s, appending missing
// closers when the input ends early.
func scanValue(s string) string {
	var stack []byte
	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return s[:i+1]
			}
		}
	}
	out := strings.TrimRight(s, " \t\r\n,")
	if inStr {
		out += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out
}

func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			b.WriteByte(c)
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		if c == '"' {
			inStr = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
