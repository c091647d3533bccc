package coerce_test

import (
	"testing"
	"time"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/coerce"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{in: "40", want: 40, ok: true},
		{in: " 36.6 ", want: 36.6, ok: true},
		{in: "1,234.5", want: 1234.5, ok: true},
		{in: "-7", want: -7, ok: true},
		{in: "1,2", ok: false},
		{in: "NaN", ok: false},
		{in: "Inf", ok: false},
		{in: "abc", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := coerce.Number(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Fatalf("Number(%q)=(%g,%t) want=(%g,%t)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestInteger(t *testing.T) {
	if _, ok := coerce.Integer("4.5"); ok {
		t.Fatalf("4.5 must not parse as integer")
	}
	if got, ok := coerce.Integer("12.0"); !ok || got != 12 {
		t.Fatalf("Integer(12.0)=(%g,%t)", got, ok)
	}
}

func TestBool(t *testing.T) {
	for _, in := range []string{"true", "Yes", "Y", "1", "t"} {
		if got, ok := coerce.Bool(in); !ok || !got {
			t.Fatalf("Bool(%q)=(%t,%t)", in, got, ok)
		}
	}
	for _, in := range []string{"false", "No", "0", "F"} {
		if got, ok := coerce.Bool(in); !ok || got {
			t.Fatalf("Bool(%q)=(%t,%t)", in, got, ok)
		}
	}
	if _, ok := coerce.Bool("maybe"); ok {
		t.Fatalf("maybe must not parse")
	}
}

func TestDate(t *testing.T) {
	want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2020-01-01", "2020/01/01", "01/01/2020", "1 Jan 2020", "January 1, 2020", "2020-01-01T08:30:00Z"} {
		got, ok := coerce.Date(in, nil)
		if !ok {
			t.Fatalf("Date(%q) failed", in)
		}
		if !table.Date(got).Equal(table.Date(want)) {
			t.Fatalf("Date(%q)=%v want %v", in, got, want)
		}
	}
	if _, ok := coerce.Date("not-a-date", nil); ok {
		t.Fatalf("not-a-date must not parse")
	}
	if _, ok := coerce.Date("2020-01-01", []string{"02/01/2006"}); ok {
		t.Fatalf("explicit layouts must replace the defaults")
	}
}

func TestValueIsIdempotent(t *testing.T) {
	types := []schema.Type{schema.TypeNumeric, schema.TypeInteger, schema.TypeDate, schema.TypeBoolean, schema.TypeText}
	raw := []string{"42", "42", "2021-05-06", "yes", "hello"}
	for i, typ := range types {
		first, ok := coerce.Value(table.String(raw[i]), typ, coerce.Options{})
		if !ok {
			t.Fatalf("%s: first coercion failed", typ)
		}
		second, ok := coerce.Value(first, typ, coerce.Options{})
		if !ok || !second.Equal(first) {
			t.Fatalf("%s: second coercion changed %v to %v", typ, first, second)
		}
	}
}

func TestValueLoss(t *testing.T) {
	got, ok := coerce.Value(table.String("forty"), schema.TypeNumeric, coerce.Options{})
	if ok || !got.IsMissing() {
		t.Fatalf("expected loss, got (%v,%t)", got, ok)
	}
	got, ok = coerce.Value(table.Missing(), schema.TypeDate, coerce.Options{})
	if !ok || !got.IsMissing() {
		t.Fatalf("missing must pass through, got (%v,%t)", got, ok)
	}
}
