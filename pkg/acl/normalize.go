// Package acl reconciles a desired access-list against the one running on a
// device, at the level of command lines.
package acl

import (
	"regexp"
	"strings"
)

var (
	// access-list NAME line N <rest>
	lineNumberRE = regexp.MustCompile(`(?i)^(access-list\s+\S+)\s+line\s+\d+(.*)$`)

	// access-list NAME <rest>
	headRE = regexp.MustCompile(`(?i)^(access-list\s+\S+)(.*)$`)

	// Trailing log, inactive and time-range clauses, each a whole token.
	volatileRE = regexp.MustCompile(`(?i)(?:\s+(?:log(?:\s+(?:\d+|disable|default|emergencies|alerts|critical|errors|warnings|notifications|informational|debugging))?(?:\s+interval\s+\d+)?|inactive|time-range\s+\S+))+\s*$`)

	// Keywords whose argument could itself be named log, inactive or time-range.
	takesArgRE = regexp.MustCompile(`(?i)\s(?:object-group|object|host|interface|user|user-group|eq|neq|lt|gt)$`)

	remarkRE = regexp.MustCompile(`(?i)^\s+remark\b`)
)

// StripLineNumber removes the "line N" clause from an access-list entry.
func StripLineNumber(line string) string {
	return lineNumberRE.ReplaceAllString(line, "$1$2")
}

// NormalizedKey is the identity of an entry: no line number, no trailing
// log, inactive or time-range clauses, no surrounding whitespace. Clauses
// are only recognised after the access-list name, and remarks are kept
// verbatim.
func NormalizedKey(line string) string {
	key := StripLineNumber(strings.TrimSpace(line))
	m := headRE.FindStringSubmatch(key)
	if m == nil {
		return key
	}
	rest := m[2]
	if !remarkRE.MatchString(rest) {
		if stripped := volatileRE.ReplaceAllString(rest, ""); !takesArgRE.MatchString(stripped) {
			rest = stripped
		}
	}
	return strings.TrimSpace(m[1] + rest)
}

// SameRule reports whether two entries are the same rule instance.
func SameRule(a, b string) bool {
	return NormalizedKey(a) == NormalizedKey(b)
}

// Negate returns the command removing line from the device.
func Negate(line string) string {
	return "no " + strings.TrimSpace(line)
}
