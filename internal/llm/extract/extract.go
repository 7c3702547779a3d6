// Package extract pulls structured data out of free-text model replies.
//
// Every function is best-effort: it returns a zero value rather than an error
// when nothing usable is found, so callers can chain extractors and fall back
// to deterministic defaults.
package extract

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// StripFences removes a surrounding markdown code fence (```json ... ```).
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Array returns the text between the first '[' and the last ']', or "".
func Array(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// Objects returns every balanced top-level JSON object in s, in order.
// Braces inside quoted strings are ignored.
func Objects(s string) []string {
	var out []string
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, ch := range s {
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start != -1 {
				out = append(out, s[start:i+1])
				start = -1
			}
		}
	}
	return out
}

// FirstObject decodes the first top-level object in s that is valid JSON.
func FirstObject(s string) map[string]any {
	for _, obj := range Objects(s) {
		var m map[string]any
		if err := json.Unmarshal([]byte(obj), &m); err == nil {
			return m
		}
	}
	return nil
}

// NormalizeKey lowercases k and drops everything but letters and digits,
// so "Expected_Answer", "expected-answer" and "expectedAnswer" compare equal.
func NormalizeKey(k string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(k) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Field looks up the first alias present in m, ignoring case and separators.
func Field(m map[string]any, aliases ...string) (any, bool) {
	if m == nil {
		return nil, false
	}
	norm := make(map[string]any, len(m))
	for k, v := range m {
		nk := NormalizeKey(k)
		if _, dup := norm[nk]; !dup {
			norm[nk] = v
		}
	}
	for _, a := range aliases {
		if v, ok := norm[NormalizeKey(a)]; ok {
			return v, true
		}
	}
	return nil, false
}

// String coerces scalars to a trimmed string.
func String(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

var listSep = regexp.MustCompile(`[,;\n]+`)

// StringList coerces arrays and delimited strings into a list of trimmed,
// non-empty strings. Leading bullets are removed.
func StringList(v any) []string {
	var raw []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s, ok := String(item); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = t
	case string:
		raw = listSep.Split(t, -1)
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), "-*•·"))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

var leadingNumber = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)`)

// Number coerces JSON numbers and numeric strings ("85", "85%", "85/100").
func Number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case string:
		m := leadingNumber.FindStringSubmatch(t)
		if m == nil {
			return 0, false
		}
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Dedupe keeps the first occurrence of each string, comparing case-insensitively.
func Dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		k := strings.ToLower(it)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

// Preview shortens s to at most n runes for logging.
func Preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
