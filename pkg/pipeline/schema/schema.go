package schema

import (
	"strings"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
)

// Type is the logical type of a column.
type Type string

const (
	TypeUnknown     Type = ""
	TypeText        Type = "text"
	TypeCategorical Type = "categorical"
	TypeNumeric     Type = "numeric"
	TypeInteger     Type = "integer"
	TypeDate        Type = "date"
	TypeBoolean     Type = "boolean"
)

// NormalizeType maps a user-supplied type name (and its common aliases) to a Type.
func NormalizeType(raw string) (Type, bool) {
	s := strings.TrimSpace(strings.ToLower(raw))
	switch s {
	case "text", "string", "str", "varchar":
		return TypeText, true
	case "categorical", "category", "enum":
		return TypeCategorical, true
	case "numeric", "number", "float", "double", "decimal":
		return TypeNumeric, true
	case "integer", "int", "bigint", "long":
		return TypeInteger, true
	case "date", "datetime", "timestamp":
		return TypeDate, true
	case "boolean", "bool", "flag":
		return TypeBoolean, true
	default:
		return TypeUnknown, false
	}
}

// IsNumeric reports whether values of t are stored as numbers.
func (t Type) IsNumeric() bool {
	return t == TypeNumeric || t == TypeInteger
}

// IsText reports whether values of t are stored as strings.
func (t Type) IsText() bool {
	return t == TypeText || t == TypeCategorical || t == TypeUnknown
}

// Check is the validity predicate of a column. Bounds are inclusive.
type Check struct {
	Min     *float64
	Max     *float64
	Allowed []string
}

// Empty reports whether the check constrains nothing.
func (c Check) Empty() bool {
	return c.Min == nil && c.Max == nil && len(c.Allowed) == 0
}

// Column is one schema entry.
type Column struct {
	Name     string
	Type     Type
	Nullable bool
	Check    Check
}

// Schema is the ordered, declarative contract the Validator checks against.
type Schema struct {
	Columns []Column
}

// Lookup returns the entry for name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns the declared column names in order.
func (s Schema) Names() []string {
	out := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		out = append(out, c.Name)
	}
	return out
}

// Validate checks the schema itself for mistakes.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s.Columns))
	for i, c := range s.Columns {
		field := "schema." + c.Name
		if strings.TrimSpace(c.Name) == "" {
			return core.Configf("schema", "entry %d has an empty column name", i)
		}
		if _, dup := seen[c.Name]; dup {
			return core.Configf(field, "duplicate column")
		}
		seen[c.Name] = struct{}{}
		if c.Type == TypeUnknown {
			return core.Configf(field, "type is required")
		}
		if c.Check.Min != nil && c.Check.Max != nil && *c.Check.Min > *c.Check.Max {
			return core.Configf(field+".check", "min %g is greater than max %g", *c.Check.Min, *c.Check.Max)
		}
		if (c.Check.Min != nil || c.Check.Max != nil) && !c.Type.IsNumeric() {
			return core.Configf(field+".check", "range bounds need a numeric or integer column, got %s", c.Type)
		}
	}
	return nil
}
