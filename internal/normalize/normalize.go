// Package normalize turns the upstream's free-form text into structured data.
// It never fails: text that does not parse yields a degraded Result carrying
// the raw text and a stable placeholder shape.
package normalize

import (
	"strings"

	"github.com/tidwall/gjson"
)

// RawKey holds the unparsed upstream text in a degraded Result.
const RawKey = "raw_content"

type Result struct {
	Value  map[string]any `json:"value"`
	Parsed bool           `json:"parsed"`
	Reason string         `json:"reason,omitempty"`
}

// Fallback builds the placeholder fields merged into a degraded Result.
type Fallback func() map[string]any

func Normalize(raw string, fb Fallback) Result {
	text := StripFence(raw)
	if text == "" {
		return degraded(raw, fb, "empty content")
	}
	if !gjson.Valid(text) {
		return degraded(raw, fb, "not valid JSON")
	}
	parsed := gjson.Parse(text)
	switch {
	case parsed.IsObject():
		m, _ := parsed.Value().(map[string]any)
		return Result{Value: m, Parsed: true}
	case parsed.IsArray():
		return Result{Value: map[string]any{"items": parsed.Value()}, Parsed: true}
	default:
		return degraded(raw, fb, "top-level value is not an object or array")
	}
}

// StripFence trims whitespace and removes a surrounding markdown code fence,
// with or without a language tag. The tag may sit directly against the
// payload, as in "```json{...}```".
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = s[3:]
	j := tagEnd(s)
	switch {
	case j == len(s) || strings.HasPrefix(s[j:], "```"):
		s = s[j:]
	case strings.IndexByte("\n\r \t", s[j]) >= 0:
		s = s[j:]
	case j > 0 && (s[j] == '{' || s[j] == '['):
		s = s[j:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// tagEnd returns the length of the leading run of language-tag characters.
func tagEnd(s string) int {
	for i, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-' || r == '+') {
			return i
		}
	}
	return len(s)
}

func degraded(raw string, fb Fallback, reason string) Result {
	v := map[string]any{}
	if fb != nil {
		for k, val := range fb() {
			v[k] = val
		}
	}
	v[RawKey] = raw
	return Result{Value: v, Parsed: false, Reason: reason}
}

// Items flattens a list-shaped result: a top-level array, an array under
// "storyboard", or the single object itself.
func Items(r Result) []any {
	if r.Parsed {
		for _, key := range []string{"items", "storyboard"} {
			if list, ok := r.Value[key].([]any); ok {
				return list
			}
		}
	}
	return []any{r.Value}
}
