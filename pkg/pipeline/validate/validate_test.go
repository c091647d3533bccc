package validate_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/validate"
)

func ptr(f float64) *float64 { return &f }

func testSchema() schema.Schema {
	return schema.Schema{Columns: []schema.Column{
		{Name: "id", Type: schema.TypeInteger, Nullable: false},
		{Name: "age", Type: schema.TypeNumeric, Nullable: true, Check: schema.Check{Min: ptr(0), Max: ptr(120)}},
		{Name: "sex", Type: schema.TypeCategorical, Nullable: true, Check: schema.Check{Allowed: []string{"female", "male"}}},
		{Name: "visit", Type: schema.TypeDate, Nullable: true},
	}}
}

func testTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.FromStrings(
		[]string{"id", "age", "sex", "visit"},
		[][]string{
			{"1", "40", "female", "2020-01-01"},
			{"", "200", "male", "2020-02-30"},
			{"3.5", "abc", "unknown", ""},
		},
	)
	require.NoError(t, err)
	return tbl
}

func TestValidateLazyCollectsAll(t *testing.T) {
	tbl := testTable(t)
	before := tbl.Clone()

	got, err := validate.Validate(tbl, testSchema(), validate.Options{Mode: validate.ModeLazy})

	var sv *core.SchemaViolation
	require.True(t, errors.As(err, &sv))
	assert.Len(t, got, 6)
	assert.Equal(t, got, sv.Violations)
	assert.Equal(t, []int{1, 2}, sv.Rows())
	assert.True(t, tbl.Equal(before), "validation must not mutate the table")

	byCell := map[[2]any]string{}
	for _, v := range got {
		byCell[[2]any{v.Row, v.Column}] = v.Reason
	}
	assert.Contains(t, byCell[[2]any{1, "id"}], "non-nullable")
	assert.Contains(t, byCell[[2]any{2, "id"}], "not a valid integer")
	assert.Contains(t, byCell[[2]any{1, "age"}], "above maximum 120")
	assert.Contains(t, byCell[[2]any{2, "age"}], "not a valid numeric")
	assert.Contains(t, byCell[[2]any{2, "sex"}], "allowed set")
	assert.Contains(t, byCell[[2]any{1, "visit"}], "not a valid date")
}

func TestValidateStrictStopsAtFirst(t *testing.T) {
	got, err := validate.Validate(testTable(t), testSchema(), validate.Options{Mode: validate.ModeStrict})

	var sv *core.SchemaViolation
	require.True(t, errors.As(err, &sv))
	require.Len(t, got, 1)
	assert.Equal(t, core.Violation{Row: 1, Column: "id", Reason: "missing value in non-nullable column"}, got[0])
}

func TestValidateMissingColumn(t *testing.T) {
	tbl, err := table.FromStrings([]string{"id"}, [][]string{{"1"}})
	require.NoError(t, err)

	got, err := validate.Validate(tbl, schema.Schema{Columns: []schema.Column{
		{Name: "id", Type: schema.TypeInteger},
		{Name: "age", Type: schema.TypeNumeric, Nullable: true},
	}}, validate.Options{})
	require.Error(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, -1, got[0].Row)
	assert.Equal(t, "age", got[0].Column)
}

func TestValidateCleanTable(t *testing.T) {
	tbl, err := table.FromStrings([]string{"id", "age"}, [][]string{{"1", "40"}, {"2", ""}})
	require.NoError(t, err)

	got, err := validate.Validate(tbl, schema.Schema{Columns: []schema.Column{
		{Name: "id", Type: schema.TypeInteger},
		{Name: "age", Type: schema.TypeNumeric, Nullable: true, Check: schema.Check{Min: ptr(0), Max: ptr(120)}},
	}}, validate.Options{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFragment(t *testing.T) {
	f := validate.Fragment([]core.Violation{{Row: 0, Column: "age"}, {Row: 1, Column: "age"}, {Row: 1, Column: "id"}})
	assert.Equal(t, 3, f.Counts["validation_violations"])
	assert.Equal(t, 2, f.Counts["violations.age"])
	assert.Equal(t, 1, f.Counts["violations.id"])
}

func TestNormalizeMode(t *testing.T) {
	assert.Equal(t, validate.ModeStrict, validate.NormalizeMode(" Strict "))
	assert.Equal(t, validate.ModeLazy, validate.NormalizeMode(""))
	assert.Equal(t, validate.ModeLazy, validate.NormalizeMode("lazy"))
}
