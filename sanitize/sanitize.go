// Package sanitize holds the pure normalisation helpers applied to request
// input before it reaches resource logic or the query builder.
package sanitize

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	emailPattern      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// MaxIdentifierLength bounds table and column names.
const MaxIdentifierLength = 64

var reservedWords = map[string]bool{
	"select": true, "insert": true, "update": true, "delete": true,
	"drop": true, "alter": true, "create": true, "truncate": true,
	"union": true, "where": true, "from": true, "table": true,
	"grant": true, "revoke": true, "exec": true, "execute": true,
}

// ─────────────────────────────────────────────────────────────────────────────
// Scalars
// ─────────────────────────────────────────────────────────────────────────────

// Num strips everything except digits and sign characters. When the result is
// an integer it is returned as int64, otherwise the original value is kept.
func Num(v any) any {
	switch n := v.(type) {
	case int64, int, float64:
		return n
	case string:
		var b strings.Builder
		for _, r := range n {
			if (r >= '0' && r <= '9') || r == '-' || r == '+' {
				b.WriteRune(r)
			}
		}
		if i, err := strconv.ParseInt(b.String(), 10, 64); err == nil {
			return i
		}
	}
	return v
}

// String encodes the HTML special characters, including both quote styles.
func String(s string) string { return html.EscapeString(s) }

// Unescape reverses String. Only values that must be used verbatim, such as
// passwords about to be hashed, are unescaped.
func Unescape(s string) string { return html.UnescapeString(s) }

// Email removes characters that cannot appear in an address and lowercases
// the result.
func Email(s string) string {
	s = html.UnescapeString(s)
	var b strings.Builder
	for _, r := range s {
		if r > 0x20 && r < 0x7f && !strings.ContainsRune(`"(),:;<>\`, r) {
			b.WriteRune(r)
		}
	}
	return strings.ToLower(b.String())
}

// ValidEmail reports whether s looks like a deliverable address.
func ValidEmail(s string) bool { return emailPattern.MatchString(s) }

// Normalise lowercases s and capitalises the first letter of each word.
func Normalise(s string) string {
	// Casers carry state and are not shared between goroutines.
	return cases.Title(language.Und).String(strings.ToLower(strings.TrimSpace(s)))
}

// ─────────────────────────────────────────────────────────────────────────────
// Structured values
// ─────────────────────────────────────────────────────────────────────────────

// Escape walks v and HTML-encodes every string it reaches, at any depth.
// Maps and slices are copied; the input is not modified.
func Escape(v any) any {
	switch t := v.(type) {
	case string:
		return String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Escape(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Escape(val)
		}
		return out
	default:
		return v
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Identifiers
// ─────────────────────────────────────────────────────────────────────────────

// Identifier validates a table or column name before it is placed in
// statement text.
func Identifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier must not be empty")
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("identifier %q exceeds %d characters", name, MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("identifier %q contains invalid characters", name)
	}
	if reservedWords[strings.ToLower(name)] {
		return fmt.Errorf("identifier %q is a reserved word", name)
	}
	return nil
}
