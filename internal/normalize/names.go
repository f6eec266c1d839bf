package normalize

import (
	"regexp"
	"strings"
)

var multiSpace = regexp.MustCompile(`\s+`)

// CleanName trims and collapses internal whitespace in a person or entity
// name without changing its case. Source OLTP exports routinely carry
// padded or double-spaced names; comparing them raw would version a
// patient on whitespace drift alone.
func CleanName(s string) string {
	s = strings.TrimSpace(s)
	return multiSpace.ReplaceAllString(s, " ")
}

// CleanCode uppercases and trims a diagnosis/procedure code so natural-key
// matching is case-insensitive.
func CleanCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
