// Package coerce parses raw cell text into typed values. A failed parse is
// reported as ok=false and never as an error; callers decide what a loss means.
package coerce

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

// DefaultDateLayouts are tried in order when no layouts are configured.
// Day-first layouts come after month-first ones; configure explicitly for
// day-first sources.
var DefaultDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006.01.02",
	"20060102",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
}

var thousandsRe = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)

// Number parses numeric text, tolerating surrounding whitespace and comma
// thousands separators. NaN and infinities are rejected.
func Number(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	if thousandsRe.MatchString(s) {
		s = strings.ReplaceAll(s, ",", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Integer parses text holding a whole number.
func Integer(raw string) (float64, bool) {
	f, ok := Number(raw)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return f, true
}

// Bool parses true/false, yes/no, y/n, t/f and 1/0, case-insensitively.
func Bool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	default:
		return false, false
	}
}

// Date parses free-form date text against layouts (DefaultDateLayouts if empty).
func Date(raw string, layouts []string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Options tune Value.
type Options struct {
	DateLayouts []string
}

// Value converts v to the representation of typ. Missing stays missing. Values
// already of the target kind are returned unchanged. Text types pass through
// as strings without any reshaping.
func Value(v table.Value, typ schema.Type, opts Options) (table.Value, bool) {
	if v.IsMissing() {
		return v, true
	}
	switch typ {
	case schema.TypeNumeric:
		if v.Kind() == table.KindNumber {
			return v, true
		}
		if f, ok := Number(v.String()); ok {
			return table.Number(f), true
		}
	case schema.TypeInteger:
		if f, ok := v.Num(); ok {
			if f == math.Trunc(f) {
				return v, true
			}
			return table.Missing(), false
		}
		if f, ok := Integer(v.String()); ok {
			return table.Number(f), true
		}
	case schema.TypeDate:
		if v.Kind() == table.KindDate {
			return v, true
		}
		if t, ok := Date(v.String(), opts.DateLayouts); ok {
			return table.Date(t), true
		}
	case schema.TypeBoolean:
		if v.Kind() == table.KindBool {
			return v, true
		}
		if b, ok := Bool(v.String()); ok {
			return table.Bool(b), true
		}
	default:
		if v.Kind() == table.KindString {
			return v, true
		}
		return table.String(v.String()), true
	}
	return table.Missing(), false
}
