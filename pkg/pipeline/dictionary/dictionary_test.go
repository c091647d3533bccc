package dictionary_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/dictionary"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

func TestBuild(t *testing.T) {
	tbl, err := table.New(
		table.Column{Name: "sex", Type: schema.TypeCategorical},
		table.Column{Name: "bmi", Type: schema.TypeNumeric},
		table.Column{Name: "visits"},
		table.Column{Name: "bmi_was_missing", Type: schema.TypeBoolean},
		table.Column{Name: "bmi_is_outlier", Type: schema.TypeBoolean},
	)
	require.NoError(t, err)
	require.NoError(t, tbl.Append([]table.Value{table.String("f"), table.Number(20.5), table.Number(3), table.Bool(false), table.Bool(false)}))

	s := schema.Schema{Columns: []schema.Column{
		{Name: "sex", Type: schema.TypeCategorical, Check: schema.Check{Allowed: []string{"female", "male"}}},
		{Name: "bmi", Type: schema.TypeNumeric},
	}}
	got := dictionary.Build(tbl, s, map[string]dictionary.Annotation{
		"bmi": {Description: "Body mass index", Unit: "kg/m2"},
	})
	require.Len(t, got, 5)

	assert.Equal(t, dictionary.Entry{Column: "sex", InferredType: "categorical", AllowedValues: []string{"female", "male"}}, got[0])
	assert.Equal(t, "kg/m2", got[1].Unit)
	assert.Equal(t, "integer", got[2].InferredType)
	assert.Contains(t, got[3].Description, "bmi was missing")
	assert.Contains(t, got[4].Description, "interquartile")

	assert.Equal(t, []string{"sex", "visits"}, columns(dictionary.Incomplete(got)))
}

func TestInfer(t *testing.T) {
	assert.Equal(t, schema.TypeNumeric, dictionary.Infer([]table.Value{table.Number(1), table.Missing(), table.Number(1.5)}))
	assert.Equal(t, schema.TypeText, dictionary.Infer([]table.Value{table.Number(1), table.String("x")}))
	assert.Equal(t, schema.TypeBoolean, dictionary.Infer([]table.Value{table.Bool(true)}))
	assert.Equal(t, schema.TypeText, dictionary.Infer(nil))
}

func TestMergeKeepsConfiguredValues(t *testing.T) {
	entries := []dictionary.Entry{
		{Column: "a", Description: "configured"},
		{Column: "b"},
	}
	got := dictionary.Merge(entries, []dictionary.Entry{
		{Column: "a", Description: "generated", Unit: "mg"},
		{Column: "b", Description: "generated b"},
	})
	assert.Equal(t, "configured", got[0].Description)
	assert.Equal(t, "mg", got[0].Unit)
	assert.Equal(t, "generated b", got[1].Description)
	assert.Empty(t, entries[1].Description)
}

func TestRenderCSV(t *testing.T) {
	out, err := dictionary.RenderCSV([]dictionary.Entry{
		{Column: "sex", InferredType: "categorical", Description: "Sex, as recorded", AllowedValues: []string{"female", "male"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "column,inferred_type,description,unit,allowed_values\nsex,categorical,\"Sex, as recorded\",,female|male\n", string(out))
}

func columns(entries []dictionary.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Column
	}
	return out
}
