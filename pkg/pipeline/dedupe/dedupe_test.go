package dedupe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/dedupe"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

func build(t *testing.T, rows ...[]string) *table.Table {
	t.Helper()
	tbl, err := table.FromStrings([]string{"id", "visit", "bmi"}, rows)
	require.NoError(t, err)
	return tbl
}

func ids(tbl *table.Table, col string) []string {
	out := make([]string, tbl.Len())
	for i := range out {
		out[i] = tbl.Get(i, col).String()
	}
	return out
}

func TestPolicies(t *testing.T) {
	in := func(t *testing.T) *table.Table {
		return build(t,
			[]string{"1", "a", ""},
			[]string{"2", "b", "20"},
			[]string{"1", "c", "21"},
			[]string{"1", "d", ""},
		)
	}
	tests := []struct {
		policy dedupe.Policy
		visits []string
	}{
		{policy: dedupe.KeepFirst, visits: []string{"a", "b"}},
		{policy: dedupe.KeepLast, visits: []string{"b", "d"}},
		{policy: dedupe.KeepMostComplete, visits: []string{"b", "c"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			d, err := dedupe.New(dedupe.Options{Keys: []string{"id"}, Policy: tt.policy})
			require.NoError(t, err)
			out, frag, err := d.Apply(in(t))
			require.NoError(t, err)
			assert.Equal(t, tt.visits, ids(out, "visit"))
			assert.Equal(t, 2, frag.Counts["duplicates_removed"])
			assert.Equal(t, 1, frag.Counts["duplicate_groups"])
		})
	}
}

func TestMostCompleteTieKeepsFirst(t *testing.T) {
	d, err := dedupe.New(dedupe.Options{Keys: []string{"id"}, Policy: dedupe.KeepMostComplete})
	require.NoError(t, err)
	out, _, err := d.Apply(build(t, []string{"1", "a", "1"}, []string{"1", "b", "2"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(out, "visit"))
}

func TestMissingKeysNeverMatchByDefault(t *testing.T) {
	rows := [][]string{{"", "a", "1"}, {"", "b", "2"}, {"3", "c", "3"}}

	d, err := dedupe.New(dedupe.Options{Keys: []string{"id"}})
	require.NoError(t, err)
	out, frag, err := d.Apply(build(t, rows...))
	require.NoError(t, err)
	assert.Equal(t, 3, out.Len())
	assert.Equal(t, 0, frag.Counts["duplicates_removed"])

	d, err = dedupe.New(dedupe.Options{Keys: []string{"id"}, MatchMissingKeys: true})
	require.NoError(t, err)
	out, frag, err = d.Apply(build(t, rows...))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(out, "visit"))
	assert.Equal(t, 1, frag.Counts["duplicates_removed"])
}

func TestCompositeKeyAndCounts(t *testing.T) {
	in := build(t,
		[]string{"1", "2020-01-01", "20"},
		[]string{"1", "2020-01-02", "21"},
		[]string{"1", "2020-01-01", "22"},
		[]string{"2", "2020-01-01", "23"},
		[]string{"2", "2020-01-01", "24"},
	)
	d, err := dedupe.New(dedupe.Options{Keys: []string{"id", "visit"}})
	require.NoError(t, err)
	out, frag, err := d.Apply(in)
	require.NoError(t, err)

	assert.Equal(t, []string{"20", "21", "23"}, ids(out, "bmi"))
	assert.Equal(t, in.Len(), out.Len()+frag.Counts["duplicates_removed"])
	assert.Equal(t, 2, frag.Counts["duplicate_groups"])
	assert.Equal(t, 5, in.Len(), "input must not change")
}

func TestKindAwareKey(t *testing.T) {
	tbl, err := table.New(table.Column{Name: "id"})
	require.NoError(t, err)
	require.NoError(t, tbl.Append([]table.Value{table.Number(1)}))
	require.NoError(t, tbl.Append([]table.Value{table.String("1")}))

	d, err := dedupe.New(dedupe.Options{Keys: []string{"id"}})
	require.NoError(t, err)
	out, _, err := d.Apply(tbl)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Len())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := dedupe.New(dedupe.Options{})
	require.Error(t, err)
	_, err = dedupe.New(dedupe.Options{Keys: []string{"id", "id"}})
	require.Error(t, err)
	_, err = dedupe.New(dedupe.Options{Keys: []string{"id"}, Policy: "random"})
	require.Error(t, err)
}

func TestMissingKeyColumn(t *testing.T) {
	d, err := dedupe.New(dedupe.Options{Keys: []string{"mrn"}})
	require.NoError(t, err)
	_, _, err = d.Apply(build(t, []string{"1", "a", "1"}))
	require.Error(t, err)
}
