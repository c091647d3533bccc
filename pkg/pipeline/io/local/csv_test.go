package local_test

import (
	"strings"
	"testing"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/io/local"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

func TestReadTable(t *testing.T) {
	t.Run("reads header and cells", func(t *testing.T) {
		in := "id,age,sex\n1,40,female\n2,NA, \n"
		got, err := local.ReadTable(strings.NewReader(in), local.ReadOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Len() != 2 || got.Width() != 3 {
			t.Fatalf("unexpected shape %dx%d", got.Len(), got.Width())
		}
		if got.Get(0, "sex").String() != "female" {
			t.Fatalf("unexpected cell: %q", got.Get(0, "sex").String())
		}
		if !got.Get(1, "age").IsMissing() {
			t.Fatalf("NA must read as missing")
		}
		if !got.Get(1, "sex").IsMissing() {
			t.Fatalf("blank cell must read as missing")
		}
	})

	t.Run("blank header names are generated", func(t *testing.T) {
		got, err := local.ReadTable(strings.NewReader("\ufeffid,,x\n1,2,3\n"), local.ReadOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		names := strings.Join(got.ColumnNames(), ",")
		if names != "id,column_2,x" {
			t.Fatalf("unexpected header: %s", names)
		}
	})

	t.Run("custom null tokens and delimiter", func(t *testing.T) {
		got, err := local.ReadTable(strings.NewReader("a\tb\n-\tNA\n"), local.ReadOptions{Comma: '\t', NullTokens: []string{"-"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.Get(0, "a").IsMissing() || got.Get(0, "b").String() != "NA" {
			t.Fatalf("unexpected cells: %#v", got.Strings())
		}
	})

	t.Run("ragged record names the line", func(t *testing.T) {
		_, err := local.ReadTable(strings.NewReader("a,b\n1,2\n3\n"), local.ReadOptions{})
		if err == nil || !strings.Contains(err.Error(), "line 3") {
			t.Fatalf("expected line 3 error, got %v", err)
		}
	})

	t.Run("duplicate header errors", func(t *testing.T) {
		if _, err := local.ReadTable(strings.NewReader("a,a\n1,2\n"), local.ReadOptions{}); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("empty input errors", func(t *testing.T) {
		if _, err := local.ReadTable(strings.NewReader(""), local.ReadOptions{}); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestWriteTableRoundTrip(t *testing.T) {
	tbl, err := table.New(table.Column{Name: "id"}, table.Column{Name: "note"}, table.Column{Name: "flag"})
	if err != nil {
		t.Fatal(err)
	}
	rows := [][]table.Value{
		{table.Number(1), table.String("has, comma"), table.Bool(true)},
		{table.Number(2.5), table.Missing(), table.Bool(false)},
	}
	for _, r := range rows {
		if err := tbl.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	out, err := local.RenderDelimited(tbl, ',')
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "id,note,flag\n1,\"has, comma\",true\n2.5,,false\n"
	if string(out) != want {
		t.Fatalf("unexpected csv:\n%s", out)
	}

	back, err := local.ReadTable(strings.NewReader(string(out)), local.ReadOptions{})
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if strings.Join(back.ColumnNames(), ",") != "id,note,flag" || back.Len() != 2 {
		t.Fatalf("unexpected shape")
	}
	for i, rec := range tbl.Strings() {
		for j, cell := range rec {
			if got := back.Strings()[i][j]; got != cell {
				t.Fatalf("cell %d,%d: got %q want %q", i, j, got, cell)
			}
		}
	}
}
