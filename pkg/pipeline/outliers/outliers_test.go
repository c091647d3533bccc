package outliers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/outliers"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

func numericTable(t *testing.T, name string, vals ...any) *table.Table {
	t.Helper()
	tbl, err := table.New(table.Column{Name: name, Type: schema.TypeNumeric})
	require.NoError(t, err)
	for _, v := range vals {
		cell := table.Missing()
		if f, ok := v.(float64); ok {
			cell = table.Number(f)
		}
		require.NoError(t, tbl.Append([]table.Value{cell}))
	}
	return tbl
}

func flags(t *testing.T, tbl *table.Table, col string) []bool {
	t.Helper()
	out := make([]bool, tbl.Len())
	for i := range out {
		b, ok := tbl.Get(i, col).Flag()
		require.True(t, ok)
		out[i] = b
	}
	return out
}

var s = schema.Schema{Columns: []schema.Column{
	{Name: "bmi", Type: schema.TypeNumeric},
	{Name: "name", Type: schema.TypeText},
}}

func TestFences(t *testing.T) {
	b, ok := outliers.Fences([]float64{1, 2, 3, 4}, 1.5)
	require.True(t, ok)
	assert.InDelta(t, 1.75, b.Q1, 1e-9)
	assert.InDelta(t, 3.25, b.Q3, 1e-9)
	assert.InDelta(t, -0.5, b.Lower, 1e-9)
	assert.InDelta(t, 5.5, b.Upper, 1e-9)

	_, ok = outliers.Fences(nil, 1.5)
	assert.False(t, ok)
}

func TestFlagsOutliers(t *testing.T) {
	f, err := outliers.New(outliers.Options{}, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"bmi"}, f.Columns())

	in := numericTable(t, "bmi", 20.0, 22.0, 21.0, 23.0, 95.0, nil)
	out, frag, err := f.Apply(in)
	require.NoError(t, err)

	assert.Equal(t, []bool{false, false, false, false, true, false}, flags(t, out, "bmi_is_outlier"))
	assert.Equal(t, 1, frag.Counts["outliers_flagged.bmi"])
	assert.Equal(t, 6, out.Len(), "outliers are never removed")
	assert.False(t, in.Has("bmi_is_outlier"))
}

func TestConstantColumnHasNoOutliers(t *testing.T) {
	f, err := outliers.New(outliers.Options{}, s)
	require.NoError(t, err)
	out, frag, err := f.Apply(numericTable(t, "bmi", 7.0, 7.0, 7.0, 7.0))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, false}, flags(t, out, "bmi_is_outlier"))
	assert.Equal(t, 0, frag.Counts["outliers_flagged.bmi"])
}

func TestZeroIQRFlagsDifferentValues(t *testing.T) {
	f, err := outliers.New(outliers.Options{Columns: []string{"bmi"}}, s)
	require.NoError(t, err)
	out, _, err := f.Apply(numericTable(t, "bmi", 5.0, 5.0, 5.0, 5.0, 5.0, 9.0))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, false, false, true}, flags(t, out, "bmi_is_outlier"))
}

func TestAllMissingColumn(t *testing.T) {
	f, err := outliers.New(outliers.Options{Multiplier: 3}, s)
	require.NoError(t, err)
	out, frag, err := f.Apply(numericTable(t, "bmi", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false}, flags(t, out, "bmi_is_outlier"))
	assert.Equal(t, 0, frag.Counts["outliers_flagged.bmi"])
}

func TestNewRejectsTextColumn(t *testing.T) {
	_, err := outliers.New(outliers.Options{Columns: []string{"name"}}, s)
	require.Error(t, err)
	_, err = outliers.New(outliers.Options{Multiplier: -1}, s)
	require.Error(t, err)
}
