// Package profile computes per-column missingness and descriptive statistics.
package profile

import (
	"fmt"
	"strings"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/coerce"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/stats"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

// Metric names a profile statistic.
type Metric string

const (
	MetricMissing      Metric = "missing"
	MetricMissingRatio Metric = "missing_ratio"
	MetricDistinct     Metric = "distinct"
	MetricMin          Metric = "min"
	MetricMax          Metric = "max"
	MetricMean         Metric = "mean"
	MetricMedian       Metric = "median"
	MetricStd          Metric = "std"
	MetricQ1           Metric = "q1"
	MetricQ3           Metric = "q3"
)

// AllMetrics is the default selection.
var AllMetrics = []Metric{
	MetricMissing, MetricMissingRatio, MetricDistinct,
	MetricMin, MetricMax, MetricMean, MetricMedian, MetricStd, MetricQ1, MetricQ3,
}

// ParseMetrics validates a metric selection; empty means AllMetrics.
func ParseMetrics(raw []string) ([]Metric, error) {
	if len(raw) == 0 {
		return append([]Metric(nil), AllMetrics...), nil
	}
	known := make(map[Metric]struct{}, len(AllMetrics))
	for _, m := range AllMetrics {
		known[m] = struct{}{}
	}
	out := make([]Metric, 0, len(raw))
	for i, r := range raw {
		m := Metric(strings.TrimSpace(strings.ToLower(r)))
		if _, ok := known[m]; !ok {
			return nil, core.Configf(fmt.Sprintf("profile.metrics[%d]", i), "unknown metric %q", r)
		}
		out = append(out, m)
	}
	return out, nil
}

// Column is the profile of one column. Numeric statistics are only set when
// the column holds numbers and the metric was selected.
type Column struct {
	Name         string   `json:"name"`
	Type         string   `json:"type,omitempty"`
	Rows         int      `json:"rows"`
	Missing      *int     `json:"missing,omitempty"`
	MissingRatio *float64 `json:"missing_ratio,omitempty"`
	Distinct     *int     `json:"distinct,omitempty"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	Mean         *float64 `json:"mean,omitempty"`
	Median       *float64 `json:"median,omitempty"`
	Std          *float64 `json:"std,omitempty"`
	Q1           *float64 `json:"q1,omitempty"`
	Q3           *float64 `json:"q3,omitempty"`
}

// Profile is the per-column profile of a table, in column order.
type Profile struct {
	Rows    int      `json:"rows"`
	Columns []Column `json:"columns"`
}

// Lookup returns the profile of the named column.
func (p Profile) Lookup(name string) (Column, bool) {
	for _, c := range p.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Compute profiles t with the selected metrics (all when empty). It never
// changes t.
func Compute(t *table.Table, metrics []Metric) Profile {
	if len(metrics) == 0 {
		metrics = AllMetrics
	}
	want := make(map[Metric]bool, len(metrics))
	for _, m := range metrics {
		want[m] = true
	}

	out := Profile{Rows: t.Len(), Columns: make([]Column, 0, t.Width())}
	for _, col := range t.Columns() {
		out.Columns = append(out.Columns, column(t, col, want))
	}
	return out
}

func column(t *table.Table, col table.Column, want map[Metric]bool) Column {
	c := Column{Name: col.Name, Type: string(col.Type), Rows: t.Len()}

	missing := 0
	distinct := make(map[string]struct{})
	var nums []float64
	// Untyped columns straight from the loader count as numeric only when
	// every present cell parses as a number.
	numeric := true
	for _, v := range t.Column(col.Name) {
		if v.IsMissing() {
			missing++
			continue
		}
		distinct[v.Kind().String()+":"+v.String()] = struct{}{}
		if f, ok := v.Num(); ok {
			nums = append(nums, f)
			continue
		}
		if s, ok := v.Str(); ok && col.Type == schema.TypeUnknown {
			if f, ok := coerce.Number(s); ok {
				nums = append(nums, f)
				continue
			}
		}
		numeric = false
	}
	if !numeric {
		nums = nil
	}

	if want[MetricMissing] {
		c.Missing = intp(missing)
	}
	if want[MetricMissingRatio] {
		ratio := 0.0
		if t.Len() > 0 {
			ratio = float64(missing) / float64(t.Len())
		}
		c.MissingRatio = &ratio
	}
	if want[MetricDistinct] {
		c.Distinct = intp(len(distinct))
	}
	if len(nums) == 0 {
		return c
	}

	sorted := stats.Sorted(nums)
	set := func(m Metric, dst **float64, f float64) {
		if want[m] {
			*dst = &f
		}
	}
	set(MetricMin, &c.Min, sorted[0])
	set(MetricMax, &c.Max, sorted[len(sorted)-1])
	set(MetricMean, &c.Mean, stats.Mean(nums))
	set(MetricMedian, &c.Median, stats.Quantile(sorted, 0.5))
	set(MetricStd, &c.Std, stats.Std(nums))
	set(MetricQ1, &c.Q1, stats.Quantile(sorted, 0.25))
	set(MetricQ3, &c.Q3, stats.Quantile(sorted, 0.75))
	return c
}

func intp(n int) *int { return &n }
