// Package correct applies range filters and controlled-vocabulary remapping.
package correct

import (
	"fmt"
	"strings"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/changelog"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

const StageName = "correct"

// Action is what happens to a value outside its range.
type Action string

const (
	ActionDrop       Action = "drop"
	ActionSetMissing Action = "set-missing"
)

// ParseAction maps user input to an Action; empty means drop.
func ParseAction(raw string) (Action, bool) {
	switch strings.ReplaceAll(strings.TrimSpace(strings.ToLower(raw)), "_", "-") {
	case "", "drop", "drop-row":
		return ActionDrop, true
	case "set-missing", "null", "nullify":
		return ActionSetMissing, true
	default:
		return "", false
	}
}

// RangeRule bounds a numeric column. Both bounds are inclusive and optional.
type RangeRule struct {
	Column string
	Min    *float64
	Max    *float64
	Action Action
}

func (r RangeRule) contains(f float64) bool {
	if r.Min != nil && f < *r.Min {
		return false
	}
	if r.Max != nil && f > *r.Max {
		return false
	}
	return true
}

// VocabRule rewrites raw variants of a column to canonical labels.
type VocabRule struct {
	Column          string
	Map             map[string]string
	CaseInsensitive bool
}

type vocab struct {
	VocabRule
	folded map[string]string
}

func (v vocab) lookup(raw string) (string, bool) {
	if out, ok := v.Map[raw]; ok {
		return out, true
	}
	if v.folded == nil {
		return "", false
	}
	out, ok := v.folded[strings.ToLower(raw)]
	return out, ok
}

// Options hold every correction; ranges run before vocabularies.
type Options struct {
	Ranges []RangeRule
	Vocab  []VocabRule
}

// Corrector applies Options to a table.
type Corrector struct {
	ranges []RangeRule
	vocab  []vocab
}

// New checks opts against the schema.
func New(opts Options, s schema.Schema) (*Corrector, error) {
	c := &Corrector{ranges: append([]RangeRule(nil), opts.Ranges...)}
	for i, r := range c.ranges {
		field := fmt.Sprintf("correct.ranges[%d]", i)
		if r.Column == "" {
			return nil, core.Configf(field, "column is required")
		}
		if r.Min == nil && r.Max == nil {
			return nil, core.Configf(field, "at least one of min and max is required")
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return nil, core.Configf(field, "min %g is greater than max %g", *r.Min, *r.Max)
		}
		if col, ok := s.Lookup(r.Column); ok && !col.Type.IsNumeric() {
			return nil, core.Configf(field, "range needs a numeric column, %q is %q", r.Column, col.Type)
		}
		switch r.Action {
		case "":
			c.ranges[i].Action = ActionDrop
		case ActionDrop, ActionSetMissing:
		default:
			return nil, core.Configf(field, "unknown action %q", r.Action)
		}
	}
	for i, v := range opts.Vocab {
		field := fmt.Sprintf("correct.vocabulary[%d]", i)
		if v.Column == "" {
			return nil, core.Configf(field, "column is required")
		}
		if len(v.Map) == 0 {
			return nil, core.Configf(field, "vocabulary for %q is empty", v.Column)
		}
		cv := vocab{VocabRule: v}
		if v.CaseInsensitive {
			cv.folded = make(map[string]string, len(v.Map))
			for k, out := range v.Map {
				fk := strings.ToLower(k)
				if prev, dup := cv.folded[fk]; dup && prev != out {
					return nil, core.Configf(field, "variants of %q map to both %q and %q", k, prev, out)
				}
				cv.folded[fk] = out
			}
		}
		c.vocab = append(c.vocab, cv)
	}
	return c, nil
}

func (c *Corrector) Name() string { return StageName }

// Apply returns a corrected copy of in. Missing values are never out of range.
func (c *Corrector) Apply(in *table.Table) (*table.Table, changelog.Fragment, error) {
	t := in.Clone()
	frag := changelog.NewFragment(StageName)

	for _, r := range c.ranges {
		j, ok := t.Index(r.Column)
		if !ok {
			return nil, frag, fmt.Errorf("column %q not in table", r.Column)
		}
		out := func(row []table.Value) bool {
			f, isNum := row[j].Num()
			return isNum && !r.contains(f)
		}

		if r.Action == ActionSetMissing {
			nulled := 0
			for i := 0; i < t.Len(); i++ {
				if row := t.Row(i); out(row) {
					row[j] = table.Missing()
					nulled++
				}
			}
			frag.Add(changelog.Key("values_nulled_out_of_range", r.Column), nulled)
			continue
		}
		dropped := t.Filter(func(_ int, row []table.Value) bool { return !out(row) })
		frag.Add(changelog.Key("rows_dropped_out_of_range", r.Column), dropped)
	}

	for _, v := range c.vocab {
		j, ok := t.Index(v.Column)
		if !ok {
			return nil, frag, fmt.Errorf("column %q not in table", v.Column)
		}
		remapped := 0
		for i := 0; i < t.Len(); i++ {
			row := t.Row(i)
			if row[j].IsMissing() {
				continue
			}
			raw := row[j].String()
			canon, hit := v.lookup(raw)
			if !hit || canon == raw {
				continue
			}
			row[j] = table.String(canon)
			remapped++
		}
		frag.Add(changelog.Key("values_remapped", v.Column), remapped)
	}
	return t, frag, nil
}
