package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/records-cleaning-pipeline/internal/config"
	"github.com/shpitdev/records-cleaning-pipeline/internal/pipeline"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/audit"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func fixedClock() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func build(t *testing.T, doc string) *pipeline.Pipeline {
	t.Helper()
	cfg, err := config.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	p, err := pipeline.New(cfg, pipeline.WithLogger(quiet), pipeline.WithClock(fixedClock))
	require.NoError(t, err)
	return p
}

func mustTable(t *testing.T, header []string, records ...[]string) *table.Table {
	t.Helper()
	tbl, err := table.FromStrings(header, records)
	require.NoError(t, err)
	return tbl
}

func TestMostCompleteDuplicateWinsAfterRangeCorrection(t *testing.T) {
	p := build(t, `
schema:
  id: {type: integer, nullable: false}
  age: {type: integer, check: {min: 0, max: 120}}
correct:
  ranges:
    age: {min: 0, max: 120, action: set-missing}
outliers:
  columns: [age]
dedupe:
  keys: [id]
  policy: keep-most-complete
`)
	in := mustTable(t, []string{"id", "age"}, []string{"1", "200"}, []string{"1", "40"})

	res, err := p.Run(context.Background(), in, audit.Meta{RunID: "r1"})
	require.NoError(t, err)

	require.Equal(t, 1, res.Table.Len())
	age, ok := res.Table.Get(0, "age").Num()
	require.True(t, ok)
	assert.Equal(t, 40.0, age)

	log := res.Report.ChangeLog()
	for key, want := range map[string]int{
		"values_nulled_out_of_range.age": 1,
		"duplicates_removed":             1,
		"rows_input":                     2,
		"rows_output":                    1,
	} {
		got, ok := log.Get(key)
		require.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
	assert.Len(t, res.Violations, 1, "age 200 breaks the schema check on input")
	assert.Empty(t, res.Report.Violations())
}

func TestRunAllStages(t *testing.T) {
	p := build(t, `
schema:
  id: {type: integer, nullable: false}
  visit: {type: date}
  sex: {type: categorical, check: {allowed: [F, M]}}
  weight: {type: numeric}
normalize:
  text_case: upper
missing:
  weight: impute-median
  sex: exclude-row
`)
	in := mustTable(t, []string{"id", "visit", "sex", "weight"},
		[]string{"1", "2020-01-05", "f", "70"},
		[]string{"2", "not-a-date", "M", ""},
		[]string{"3", "2020-02-01", "", "80"},
		[]string{"4", "2020-03-01", "m", "90"},
	)
	before := in.Clone()

	res, err := p.Run(context.Background(), in, audit.Meta{RunID: "r2", StartedAt: fixedClock()})
	require.NoError(t, err)
	assert.True(t, in.Equal(before), "input table must not change")

	tbl := res.Table
	require.Equal(t, 3, tbl.Len())
	for _, col := range []string{"weight_was_missing", "sex_was_missing", "weight_is_outlier", "id_is_outlier"} {
		assert.True(t, tbl.Has(col), col)
	}

	w, _ := tbl.Get(1, "weight").Num()
	assert.Equal(t, 80.0, w)
	flag, _ := tbl.Get(1, "weight_was_missing").Flag()
	assert.True(t, flag)
	assert.True(t, tbl.Get(1, "visit").IsMissing())
	sex, _ := tbl.Get(0, "sex").Str()
	assert.Equal(t, "F", sex)

	require.Len(t, res.Losses, 1)
	assert.Equal(t, "visit", res.Losses[0].Column)

	log := res.Report.ChangeLog()
	for key, want := range map[string]int{
		"coercion_loss.visit": 1,
		"missing.weight":      1,
		"imputed.weight":      1,
		"rows_excluded.sex":   1,
		"rows_input":          4,
		"rows_output":         3,
	} {
		got, ok := log.Get(key)
		require.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}

	names := make([]string, 0, len(res.Stages))
	for _, s := range res.Stages {
		names = append(names, s.Stage)
	}
	assert.Equal(t, []string{"validate", "normalize", "impute", "correct", "outliers", "dedupe"}, names)
	assert.Equal(t, 4, res.Initial.Rows)
	assert.Equal(t, fixedClock(), res.Report.FinishedAt())
}

func TestAbortOnViolation(t *testing.T) {
	p := build(t, `
schema:
  age: {type: integer, check: {min: 0, max: 120}}
validation:
  abort_on_violation: true
`)
	_, err := p.Run(context.Background(), mustTable(t, []string{"age"}, []string{"130"}), audit.Meta{})

	var se *core.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "validate", se.Stage)
	var sv *core.SchemaViolation
	require.True(t, errors.As(err, &sv))
	assert.Equal(t, []int{0}, sv.Rows())
}

func TestStageFailureNamesStage(t *testing.T) {
	p := build(t, "schema:\n  id: {type: integer}\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, mustTable(t, []string{"id"}, []string{"1"}), audit.Meta{})
	var se *core.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "validate", se.Stage)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsUnknownColumns(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{name: "missing", doc: "missing:\n  height: flag-only\n", field: "missing.height"},
		{name: "range", doc: "correct:\n  ranges:\n    height: {max: 3}\n", field: "correct.ranges.height"},
		{name: "vocabulary", doc: "correct:\n  vocabulary:\n    dx: {map: {a: b}}\n", field: "correct.vocabulary.dx"},
		{name: "dedupe", doc: "dedupe:\n  keys: [mrn]\n", field: "dedupe.keys[0]"},
		{name: "outliers", doc: "outliers:\n  columns: [bmi]\n", field: "outliers.columns[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Parse(strings.NewReader("schema:\n  id: {type: integer}\n" + tt.doc))
			require.NoError(t, err)
			_, err = pipeline.New(cfg, pipeline.WithLogger(quiet))
			var ce *core.ConfigurationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestNewRejectsValuesReadBackAsMissing(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{name: "constant", doc: "missing:\n  dx: {policy: impute-constant, value: N/A}\n", field: "missing.dx.value"},
		{name: "vocabulary", doc: "correct:\n  vocabulary:\n    dx: {map: {unknown: None}}\n", field: "correct.vocabulary.dx"},
		{name: "custom token", doc: "input: {null_tokens: ['?']}\nmissing:\n  dx: {policy: impute-constant, value: '?'}\n", field: "missing.dx.value"},
		{name: "not a token", doc: "input: {null_tokens: ['?']}\nmissing:\n  dx: {policy: impute-constant, value: NA}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Parse(strings.NewReader("schema:\n  dx: {type: text}\n" + tt.doc))
			require.NoError(t, err)
			_, err = pipeline.New(cfg, pipeline.WithLogger(quiet))
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			var ce *core.ConfigurationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestRunLogsStages(t *testing.T) {
	var buf bytes.Buffer
	cfg, err := config.Parse(strings.NewReader("schema:\n  id: {type: integer}\n"))
	require.NoError(t, err)
	p, err := pipeline.New(cfg, pipeline.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), mustTable(t, []string{"id"}, []string{"1"}, []string{"1"}), audit.Meta{})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "stage=dedupe")
	assert.Contains(t, out, "rows_in=2")
	assert.Contains(t, out, "rows_out=1")
}
