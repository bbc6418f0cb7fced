// Package sanitize turns a filesystem path segment into a valid, camelCase
// API property name, with acronym-aware rules a caller can override.
package sanitize

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// ErrInvalidName is returned when sanitizing a segment yields an empty
// string.
var ErrInvalidName = errors.New("invalid name")

// Rules groups the pattern lists recognized by Sanitize, applied in the
// order: leave > leaveInsensitive > preserveAllUpper/preserveAllLower >
// upper > lower > default camelization.
type Rules struct {
	Upper            []string
	Lower            []string
	Leave            []string // case-sensitive exact/wildcard match, preserved verbatim
	LeaveInsensitive []string // case-insensitive match, preserved verbatim
}

// Options configures Sanitize.
type Options struct {
	Rules             Rules
	PreserveAllUpper  bool
	PreserveAllLower  bool
}

// Sanitize maps a single filesystem segment (e.g. "my-module_v2") to a
// camelCase API property name.
func Sanitize(raw string, opts Options) (string, error) {
	parts := splitSegments(raw)
	if len(parts) == 0 {
		return "", ErrInvalidName
	}

	out := make([]string, 0, len(parts))
	for i, part := range parts {
		transformed := transform(part, parts, opts)
		if i == 0 && !isPreserved(part, parts, opts) {
			transformed = lowerFirst(transformed)
		}
		out = append(out, transformed)
	}

	name := strings.Join(out, "")
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}

// splitSegments breaks raw on any run of non-alphanumeric characters.
func splitSegments(raw string) []string {
	var parts []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return parts
}

// transform applies the first matching rule to part in precedence order,
// falling back to default camelization (upper-casing the first rune and
// keeping the rest of the segment as written; the caller lower-cases the
// first rune at position 0 separately).
func transform(part string, allParts []string, opts Options) string {
	if v, ok := matchExact(part, opts.Rules.Leave, true); ok {
		return v
	}
	if v, ok := matchExact(part, opts.Rules.LeaveInsensitive, false); ok {
		return v
	}
	if opts.PreserveAllUpper && isAllUpper(part) {
		return part
	}
	if opts.PreserveAllLower && isAllLower(part) {
		return part
	}
	if matchWildcard(part, opts.Rules.Upper) {
		return strings.ToUpper(part)
	}
	if matchWildcard(part, opts.Rules.Lower) {
		return strings.ToLower(part)
	}
	return titleCase(part)
}

// isPreserved reports whether part would be left untouched by a leave/
// leaveInsensitive/preserve rule (used to decide whether position 0 should
// still be lower-cased by the caller).
func isPreserved(part string, allParts []string, opts Options) bool {
	if _, ok := matchExact(part, opts.Rules.Leave, true); ok {
		return true
	}
	if _, ok := matchExact(part, opts.Rules.LeaveInsensitive, false); ok {
		return true
	}
	if opts.PreserveAllUpper && isAllUpper(part) {
		return true
	}
	if opts.PreserveAllLower && isAllLower(part) {
		return true
	}
	return false
}

func matchExact(part string, patterns []string, caseSensitive bool) (string, bool) {
	for _, p := range patterns {
		if matchesPattern(part, p, caseSensitive) {
			return part, true
		}
	}
	return "", false
}

func matchWildcard(part string, patterns []string) bool {
	for _, p := range patterns {
		if matchesPattern(part, p, false) {
			return true
		}
	}
	return false
}

// matchesPattern implements the three wildcard grammars documented in
// SPEC_FULL.md/spec.md §4.1: "*X", "X*", "*X*" (substring/prefix/suffix/
// contains), "**X**" (must be surrounded on both sides, excludes a
// standalone match), and a bare pattern (exact whole-segment match).
func matchesPattern(part, pattern string, caseSensitive bool) bool {
	p, s := pattern, part
	if !caseSensitive {
		p = strings.ToLower(p)
		s = strings.ToLower(s)
	}

	switch {
	case strings.HasPrefix(p, "**") && strings.HasSuffix(p, "**") && len(p) > 4:
		inner := p[2 : len(p)-2]
		idx := strings.Index(s, inner)
		if idx < 0 {
			return false
		}
		// Must have at least one character on both sides.
		return idx > 0 && idx+len(inner) < len(s)
	case strings.HasPrefix(p, "*") && strings.HasSuffix(p, "*") && len(p) > 2:
		return strings.Contains(s, p[1:len(p)-1])
	case strings.HasPrefix(p, "*"):
		return strings.HasSuffix(s, p[1:])
	case strings.HasSuffix(p, "*"):
		return strings.HasPrefix(s, p[:len(p)-1])
	default:
		return s == p
	}
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func isAllLower(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Identifier lower-cases the first rune of a Go identifier (e.g. an
// exported function name) to produce its external property key, without
// running it through the segment-splitting/Rules pipeline Sanitize applies
// to filesystem names: an identifier is already well-formed Go, so only the
// exported/unexported case convention needs to change.
func Identifier(name string) string {
	return lowerFirst(name)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// IsValidIdentifier reports whether s is already a valid camelCase/
// PascalCase Go-style identifier, used to implement function-name
// preference: a function whose internal name is already a valid identifier
// is treated as pre-sanitized and wins over the sanitized filename (with
// only its first rune lower-cased, via Identifier).
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}
