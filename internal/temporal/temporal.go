// Package temporal parses date/time strings from loosely typed JSON payloads.
//
// The sync core never guesses formats itself: a field either declares an
// explicit layout, or the value goes through Parse, which combines
// araddon/dateparse (format detection) with a small list of known layouts
// the detector occasionally misses.
package temporal

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Options mirror the parser knobs a field descriptor can configure.
type Options struct {
	// DayFirst biases ambiguous numeric dates (01/02/2006) toward
	// day-month-year order.
	DayFirst bool

	// Location is the zone assumed for values without zone information.
	// Nil means time.Local.
	Location *time.Location
}

// fallbackLayouts are tried in order when dateparse cannot detect a format.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"15:04:05",
	"15:04",
}

// Parse parses s into a time.Time without a declared layout.
func Parse(s string, o Options) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("temporal: empty time string")
	}

	loc := o.Location
	if loc == nil {
		loc = time.Local
	}

	opts := []dateparse.ParserOption{
		dateparse.PreferMonthFirst(!o.DayFirst),
		dateparse.RetryAmbiguousDateWithSwap(true),
	}
	if t, err := dateparse.ParseIn(s, loc, opts...); err == nil {
		return t, nil
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("temporal: unsupported time format: %q", s)
}

// ParseLayout parses s with an explicit layout, in the configured location.
func ParseLayout(s, layout string, o Options) (time.Time, error) {
	loc := o.Location
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(layout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("temporal: %w", err)
	}
	return t, nil
}
