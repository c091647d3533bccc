// Package impute resolves missing values with a per-column policy and records
// which cells were originally absent.
package impute

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/changelog"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/coerce"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/stats"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

const StageName = "impute"

// FlagSuffix names the provenance column written for every configured column.
const FlagSuffix = "_was_missing"

// Policy is a missing-data strategy.
type Policy string

const (
	PolicyMedian   Policy = "impute-median"
	PolicyMean     Policy = "impute-mean"
	PolicyMode     Policy = "impute-mode"
	PolicyConstant Policy = "impute-constant"
	PolicyExclude  Policy = "exclude-row"
	PolicyFlagOnly Policy = "flag-only"
)

// ParsePolicy accepts the canonical names plus the short forms median, mean,
// mode, constant, exclude and flag.
func ParsePolicy(raw string) (Policy, bool) {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.ReplaceAll(s, "_", "-")
	switch s {
	case "impute-median", "median":
		return PolicyMedian, true
	case "impute-mean", "mean":
		return PolicyMean, true
	case "impute-mode", "mode", "most-frequent":
		return PolicyMode, true
	case "impute-constant", "constant":
		return PolicyConstant, true
	case "exclude-row", "exclude", "drop", "drop-row":
		return PolicyExclude, true
	case "flag-only", "flag", "none":
		return PolicyFlagOnly, true
	default:
		return "", false
	}
}

// Rule is the policy for one column. Value is only read for PolicyConstant.
type Rule struct {
	Column string
	Policy Policy
	Value  any
}

type rule struct {
	Rule
	typ      schema.Type
	constant table.Value
}

// Resolver applies the configured rules in order.
type Resolver struct {
	rules []rule
}

// FlagColumn returns the provenance column name for column.
func FlagColumn(column string) string { return column + FlagSuffix }

// New checks rules against the schema. Constants are coerced to the column
// type here so that a bad constant fails before any data is touched.
func New(rules []Rule, s schema.Schema) (*Resolver, error) {
	seen := make(map[string]struct{}, len(rules))
	out := make([]rule, 0, len(rules))
	for i, r := range rules {
		field := fmt.Sprintf("missing[%d]", i)
		if r.Column == "" {
			return nil, core.Configf(field, "column is required")
		}
		if _, dup := seen[r.Column]; dup {
			return nil, core.Configf(field, "column %q configured twice", r.Column)
		}
		seen[r.Column] = struct{}{}

		typ := schema.TypeUnknown
		if c, ok := s.Lookup(r.Column); ok {
			typ = c.Type
		}
		cr := rule{Rule: r, typ: typ}

		switch r.Policy {
		case PolicyMedian, PolicyMean:
			if !typ.IsNumeric() {
				return nil, core.Configf(field, "%s needs a numeric column, %q is %q", r.Policy, r.Column, typ)
			}
		case PolicyConstant:
			if r.Value == nil {
				return nil, core.Configf(field, "impute-constant needs a value")
			}
			raw, err := cast.ToStringE(r.Value)
			if err != nil {
				return nil, core.Configf(field, "constant: %v", err)
			}
			v, ok := coerce.Value(table.String(raw), typ, coerce.Options{})
			if !ok || v.IsMissing() {
				return nil, core.Configf(field, "constant %q is not a valid %s", raw, typ)
			}
			cr.constant = v
		case PolicyMode, PolicyExclude, PolicyFlagOnly:
		default:
			return nil, core.Configf(field, "unknown policy %q", r.Policy)
		}
		out = append(out, cr)
	}
	return &Resolver{rules: out}, nil
}

func (r *Resolver) Name() string { return StageName }

// Apply returns a resolved copy of in. All provenance flags are computed
// before any policy runs so that one column's policy cannot hide another
// column's original gaps.
func (r *Resolver) Apply(in *table.Table) (*table.Table, changelog.Fragment, error) {
	t := in.Clone()
	frag := changelog.NewFragment(StageName)

	for _, ru := range r.rules {
		if !t.Has(ru.Column) {
			return nil, frag, fmt.Errorf("column %q not in table", ru.Column)
		}
	}

	for _, ru := range r.rules {
		flag := FlagColumn(ru.Column)
		if !t.Has(flag) {
			if err := t.AddColumn(table.Column{Name: flag, Type: schema.TypeBoolean}, table.Bool(false)); err != nil {
				return nil, frag, err
			}
		}
		missing := 0
		for i := 0; i < t.Len(); i++ {
			gap := t.Get(i, ru.Column).IsMissing()
			if gap {
				missing++
			}
			prev, _ := t.Get(i, flag).Flag()
			if err := t.Set(i, flag, table.Bool(prev || gap)); err != nil {
				return nil, frag, err
			}
		}
		frag.Set(changelog.Key("missing", ru.Column), missing)
	}

	for _, ru := range r.rules {
		if ru.Policy == PolicyExclude {
			j, _ := t.Index(ru.Column)
			removed := t.Filter(func(_ int, row []table.Value) bool { return !row[j].IsMissing() })
			frag.Set(changelog.Key("rows_excluded", ru.Column), removed)
			continue
		}
		if ru.Policy == PolicyFlagOnly {
			continue
		}

		fill, ok := r.fillValue(t, ru)
		if !ok {
			frag.Set(changelog.Key("impute_skipped", ru.Column), 1)
			frag.Set(changelog.Key("imputed", ru.Column), 0)
			continue
		}
		imputed := 0
		for i := 0; i < t.Len(); i++ {
			if !t.Get(i, ru.Column).IsMissing() {
				continue
			}
			if err := t.Set(i, ru.Column, fill); err != nil {
				return nil, frag, err
			}
			imputed++
		}
		frag.Set(changelog.Key("imputed", ru.Column), imputed)
	}
	return t, frag, nil
}

// fillValue reports false when the column has no observed values to learn from.
func (r *Resolver) fillValue(t *table.Table, ru rule) (table.Value, bool) {
	if ru.Policy == PolicyConstant {
		return ru.constant, true
	}
	vals := t.Column(ru.Column)
	if ru.Policy == PolicyMode {
		return mode(vals)
	}

	var nums []float64
	for _, v := range vals {
		if f, ok := v.Num(); ok {
			nums = append(nums, f)
		}
	}
	if len(nums) == 0 {
		return table.Missing(), false
	}
	var f float64
	if ru.Policy == PolicyMedian {
		f = stats.Median(nums)
	} else {
		f = stats.Mean(nums)
	}
	if ru.typ == schema.TypeInteger {
		f = math.Round(f)
	}
	return table.Number(f), true
}

// mode returns the most frequent non-missing value; ties go to the value seen first.
func mode(vals []table.Value) (table.Value, bool) {
	type entry struct {
		v     table.Value
		count int
	}
	byKey := make(map[string]*entry)
	var order []*entry
	for _, v := range vals {
		if v.IsMissing() {
			continue
		}
		k := v.Kind().String() + ":" + v.String()
		e, ok := byKey[k]
		if !ok {
			e = &entry{v: v}
			byKey[k] = e
			order = append(order, e)
		}
		e.count++
	}
	var best *entry
	for _, e := range order {
		if best == nil || e.count > best.count {
			best = e
		}
	}
	if best == nil {
		return table.Missing(), false
	}
	return best.v, true
}
