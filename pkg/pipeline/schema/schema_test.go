package schema_test

import (
	"errors"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
)

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want schema.Type
		ok   bool
	}{
		{name: "text", in: "text", want: schema.TypeText, ok: true},
		{name: "string alias", in: " String ", want: schema.TypeText, ok: true},
		{name: "float alias", in: "FLOAT", want: schema.TypeNumeric, ok: true},
		{name: "int alias", in: "int", want: schema.TypeInteger, ok: true},
		{name: "datetime alias", in: "datetime", want: schema.TypeDate, ok: true},
		{name: "enum alias", in: "enum", want: schema.TypeCategorical, ok: true},
		{name: "bool alias", in: "bool", want: schema.TypeBoolean, ok: true},
		{name: "unknown", in: "blob", want: schema.TypeUnknown, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := schema.NormalizeType(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("NormalizeType(%q)=(%q,%t) want=(%q,%t)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestUnmarshalYAMLMappingKeepsOrder(t *testing.T) {
	in := `
patient_id:
  type: integer
  nullable: false
age:
  type: numeric
  check: {min: 0, max: "120"}
sex:
  type: categorical
  check:
    allowed: [female, male, 1]
`
	var s schema.Schema
	if err := yaml.Unmarshal([]byte(in), &s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := s.Names()
	if len(names) != 3 || names[0] != "patient_id" || names[1] != "age" || names[2] != "sex" {
		t.Fatalf("unexpected order: %v", names)
	}
	id, _ := s.Lookup("patient_id")
	if id.Nullable || id.Type != schema.TypeInteger {
		t.Fatalf("unexpected patient_id: %#v", id)
	}
	age, _ := s.Lookup("age")
	if !age.Nullable || age.Check.Min == nil || *age.Check.Min != 0 || age.Check.Max == nil || *age.Check.Max != 120 {
		t.Fatalf("unexpected age: %#v", age)
	}
	sex, _ := s.Lookup("sex")
	if len(sex.Check.Allowed) != 3 || sex.Check.Allowed[2] != "1" {
		t.Fatalf("unexpected allowed: %#v", sex.Check.Allowed)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
}

func TestUnmarshalYAMLSequence(t *testing.T) {
	in := `
- name: visit_date
  type: date
- name: bmi
  type: float
`
	var s schema.Schema
	if err := yaml.Unmarshal([]byte(in), &s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Columns) != 2 || s.Columns[0].Type != schema.TypeDate || s.Columns[1].Type != schema.TypeNumeric {
		t.Fatalf("unexpected columns: %#v", s.Columns)
	}
}

func TestUnmarshalYAMLUnknownType(t *testing.T) {
	var s schema.Schema
	err := yaml.Unmarshal([]byte("x:\n  type: blob\n"), &s)
	var cfgErr *core.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestUnmarshalYAMLUnknownKey(t *testing.T) {
	tests := []struct {
		doc   string
		field string
	}{
		{doc: "age:\n  type: integer\n  nulable: false\n", field: "schema.age.nulable"},
		{doc: "age:\n  type: integer\n  check: {min: 0, mx: 120}\n", field: "schema.age.check.mx"},
		{doc: "- name: age\n  typ: integer\n", field: "schema[0].typ"},
	}
	for _, tt := range tests {
		var s schema.Schema
		err := yaml.Unmarshal([]byte(tt.doc), &s)
		var cfgErr *core.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%q: expected ConfigurationError, got %v", tt.doc, err)
		}
		if cfgErr.Field != tt.field {
			t.Fatalf("%q: field=%q want %q", tt.doc, cfgErr.Field, tt.field)
		}
	}
}

func TestValidate(t *testing.T) {
	lo, hi := 10.0, 1.0
	tests := []struct {
		name string
		s    schema.Schema
	}{
		{name: "empty name", s: schema.Schema{Columns: []schema.Column{{Name: " ", Type: schema.TypeText}}}},
		{name: "duplicate", s: schema.Schema{Columns: []schema.Column{{Name: "a", Type: schema.TypeText}, {Name: "a", Type: schema.TypeText}}}},
		{name: "missing type", s: schema.Schema{Columns: []schema.Column{{Name: "a"}}}},
		{name: "inverted range", s: schema.Schema{Columns: []schema.Column{{Name: "a", Type: schema.TypeNumeric, Check: schema.Check{Min: &lo, Max: &hi}}}}},
		{name: "range on text", s: schema.Schema{Columns: []schema.Column{{Name: "a", Type: schema.TypeText, Check: schema.Check{Min: &hi}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfgErr *core.ConfigurationError
			if err := tt.s.Validate(); !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
		})
	}
}
