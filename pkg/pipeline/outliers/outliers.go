// Package outliers annotates numeric values that fall outside Tukey fences.
// Values are flagged, never removed.
package outliers

import (
	"fmt"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/changelog"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/stats"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

const StageName = "outliers"

// FlagSuffix names the provenance column written for every checked column.
const FlagSuffix = "_is_outlier"

// DefaultMultiplier is Tukey's k.
const DefaultMultiplier = 1.5

// FlagColumn returns the provenance column name for column.
func FlagColumn(column string) string { return column + FlagSuffix }

// Bounds are the inclusive fences of one column.
type Bounds struct {
	Q1, Q3 float64
	Lower  float64
	Upper  float64
}

// Outside reports whether f lies beyond either fence.
func (b Bounds) Outside(f float64) bool {
	return f < b.Lower || f > b.Upper
}

// Fences computes IQR bounds over the given values. ok is false when there are none.
func Fences(vals []float64, k float64) (Bounds, bool) {
	if len(vals) == 0 {
		return Bounds{}, false
	}
	q1, q3 := stats.Quartiles(vals)
	iqr := q3 - q1
	return Bounds{Q1: q1, Q3: q3, Lower: q1 - k*iqr, Upper: q3 + k*iqr}, true
}

// Options select the columns and the fence multiplier. Empty Columns means
// every numeric or integer schema column.
type Options struct {
	Columns    []string
	Multiplier float64
}

// Flagger writes one boolean flag column per checked column.
type Flagger struct {
	columns []string
	k       float64
}

func New(opts Options, s schema.Schema) (*Flagger, error) {
	k := opts.Multiplier
	if k == 0 {
		k = DefaultMultiplier
	}
	if k < 0 {
		return nil, core.Configf("outliers.multiplier", "must be positive, got %g", k)
	}
	cols := opts.Columns
	if len(cols) == 0 {
		for _, c := range s.Columns {
			if c.Type.IsNumeric() {
				cols = append(cols, c.Name)
			}
		}
	}
	for i, name := range cols {
		c, ok := s.Lookup(name)
		if ok && !c.Type.IsNumeric() {
			return nil, core.Configf(fmt.Sprintf("outliers.columns[%d]", i), "%q is %q, not numeric", name, c.Type)
		}
	}
	return &Flagger{columns: cols, k: k}, nil
}

func (f *Flagger) Name() string { return StageName }

// Columns returns the columns the flagger checks.
func (f *Flagger) Columns() []string { return append([]string(nil), f.columns...) }

// Apply returns a copy of in with a flag column added per checked column.
// Missing cells are never outliers.
func (f *Flagger) Apply(in *table.Table) (*table.Table, changelog.Fragment, error) {
	t := in.Clone()
	frag := changelog.NewFragment(StageName)

	for _, col := range f.columns {
		if !t.Has(col) {
			return nil, frag, fmt.Errorf("column %q not in table", col)
		}
		var vals []float64
		for _, v := range t.Column(col) {
			if n, ok := v.Num(); ok {
				vals = append(vals, n)
			}
		}
		b, ok := Fences(vals, f.k)

		flag := FlagColumn(col)
		if !t.Has(flag) {
			if err := t.AddColumn(table.Column{Name: flag, Type: schema.TypeBoolean}, table.Bool(false)); err != nil {
				return nil, frag, err
			}
		}
		flagged := 0
		for i := 0; i < t.Len(); i++ {
			n, isNum := t.Get(i, col).Num()
			hit := ok && isNum && b.Outside(n)
			if hit {
				flagged++
			}
			if err := t.Set(i, flag, table.Bool(hit)); err != nil {
				return nil, frag, err
			}
		}
		frag.Set(changelog.Key("outliers_flagged", col), flagged)
	}
	return t, frag, nil
}
