package normalize

import (
	"strings"
	"time"
)

// DateLayout is the canonical date encoding used in snapshot files and the
// --run-date flag.
const DateLayout = "2006-01-02"

// Date formats accepted in snapshot exports, most common first.
var dateFormats = []string{
	DateLayout,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"2006/01/02",
}

// ParseDate attempts to parse a date string in the accepted formats.
// Returns nil if the input is empty or unparseable.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
