// Package validate checks a table against a declared schema without mutating it.
package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/changelog"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/coerce"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

// StageName is the change-log stage label.
const StageName = "validate"

// Mode selects how many violations a call collects.
type Mode string

const (
	// ModeLazy collects every violation.
	ModeLazy Mode = "lazy"
	// ModeStrict stops at the first violation.
	ModeStrict Mode = "strict"
)

// NormalizeMode maps user input to a Mode; anything unrecognized is lazy.
func NormalizeMode(raw string) Mode {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "strict", "fail-fast", "eager":
		return ModeStrict
	default:
		return ModeLazy
	}
}

// Options tune type checks of raw text.
type Options struct {
	Mode        Mode
	DateLayouts []string
}

// Validate checks t against s. It returns every violation found (one in
// strict mode) and, when there is at least one, a *core.SchemaViolation
// carrying the same list.
func Validate(t *table.Table, s schema.Schema, opts Options) ([]core.Violation, error) {
	var out []core.Violation
	stop := func() bool { return opts.Mode == ModeStrict && len(out) > 0 }

	for _, col := range s.Columns {
		if !t.Has(col.Name) {
			out = append(out, core.Violation{Row: -1, Column: col.Name, Reason: "column missing from table"})
			if stop() {
				return out, &core.SchemaViolation{Violations: out}
			}
			continue
		}
		allowed := allowedSet(col.Check.Allowed)
		for i := 0; i < t.Len(); i++ {
			if reason, bad := checkCell(t.Get(i, col.Name), col, allowed, opts); bad {
				out = append(out, core.Violation{Row: i, Column: col.Name, Reason: reason})
				if stop() {
					return out, &core.SchemaViolation{Violations: out}
				}
			}
		}
	}
	if len(out) > 0 {
		return out, &core.SchemaViolation{Violations: out}
	}
	return nil, nil
}

// Fragment summarizes violations for the change log.
func Fragment(violations []core.Violation) changelog.Fragment {
	f := changelog.NewFragment(StageName)
	f.Set("validation_violations", len(violations))
	for _, v := range violations {
		f.Add(changelog.Key("violations", v.Column), 1)
	}
	return f
}

func allowedSet(vals []string) map[string]struct{} {
	if len(vals) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		out[v] = struct{}{}
	}
	return out
}

func checkCell(v table.Value, col schema.Column, allowed map[string]struct{}, opts Options) (string, bool) {
	if v.IsMissing() {
		if !col.Nullable {
			return "missing value in non-nullable column", true
		}
		return "", false
	}

	typed, ok := coerce.Value(v, col.Type, coerce.Options{DateLayouts: opts.DateLayouts})
	if !ok {
		return fmt.Sprintf("value %q is not a valid %s", v.String(), col.Type), true
	}

	if f, isNum := typed.Num(); isNum {
		if col.Check.Min != nil && f < *col.Check.Min {
			return fmt.Sprintf("value %s is below minimum %s", fmtNum(f), fmtNum(*col.Check.Min)), true
		}
		if col.Check.Max != nil && f > *col.Check.Max {
			return fmt.Sprintf("value %s is above maximum %s", fmtNum(f), fmtNum(*col.Check.Max)), true
		}
	}

	if allowed != nil {
		if _, in := allowed[typed.String()]; !in {
			return fmt.Sprintf("value %q is not in the allowed set", typed.String()), true
		}
	}
	return "", false
}

func fmtNum(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%.0f", f)
	}
	return fmt.Sprintf("%g", f)
}
