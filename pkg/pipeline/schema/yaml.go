package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
)

type columnDoc struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Nullable *bool    `yaml:"nullable"`
	Check    checkDoc `yaml:"check"`
}

type checkDoc struct {
	Min     any   `yaml:"min"`
	Max     any   `yaml:"max"`
	Allowed []any `yaml:"allowed"`
}

// UnmarshalYAML accepts either a mapping of column name to {type, nullable, check}
// (declaration order is kept) or a sequence of entries carrying a name key.
func (s *Schema) UnmarshalYAML(value *yaml.Node) error {
	var cols []Column
	switch value.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			var name string
			if err := value.Content[i].Decode(&name); err != nil {
				return fmt.Errorf("schema key at line %d: %w", value.Content[i].Line, err)
			}
			if err := checkColumnKeys(value.Content[i+1], "schema."+name); err != nil {
				return err
			}
			var doc columnDoc
			if err := value.Content[i+1].Decode(&doc); err != nil {
				return fmt.Errorf("schema.%s: %w", name, err)
			}
			doc.Name = name
			col, err := doc.column()
			if err != nil {
				return err
			}
			cols = append(cols, col)
		}
	case yaml.SequenceNode:
		for i, n := range value.Content {
			if err := checkColumnKeys(n, fmt.Sprintf("schema[%d]", i)); err != nil {
				return err
			}
			var doc columnDoc
			if err := n.Decode(&doc); err != nil {
				return fmt.Errorf("schema entry at line %d: %w", n.Line, err)
			}
			col, err := doc.column()
			if err != nil {
				return err
			}
			cols = append(cols, col)
		}
	default:
		return core.Configf("schema", "expected a mapping or a sequence (line %d)", value.Line)
	}
	s.Columns = cols
	return nil
}

var (
	columnKeys = []string{"name", "type", "nullable", "check"}
	checkKeys  = []string{"min", "max", "allowed"}
)

// checkColumnKeys rejects misspelled keys in a column entry and its check.
// Decoding a sub-node does not inherit the parent decoder's KnownFields.
func checkColumnKeys(n *yaml.Node, field string) error {
	if err := onlyKeys(n, field, columnKeys); err != nil {
		return err
	}
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == "check" {
			return onlyKeys(n.Content[i+1], field+".check", checkKeys)
		}
	}
	return nil
}

func onlyKeys(n *yaml.Node, field string, known []string) error {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i].Value
		if !slices.Contains(known, k) {
			return core.Configf(field+"."+k, "unknown key (line %d); expected one of %s", n.Content[i].Line, strings.Join(known, ", "))
		}
	}
	return nil
}

func (d columnDoc) column() (Column, error) {
	name := strings.TrimSpace(d.Name)
	field := "schema." + name
	t, ok := NormalizeType(d.Type)
	if !ok {
		return Column{}, core.Configf(field+".type", "unknown type %q", d.Type)
	}
	nullable := true
	if d.Nullable != nil {
		nullable = *d.Nullable
	}
	check, err := d.Check.check(field + ".check")
	if err != nil {
		return Column{}, err
	}
	return Column{Name: name, Type: t, Nullable: nullable, Check: check}, nil
}

func (d checkDoc) check(field string) (Check, error) {
	var c Check
	if d.Min != nil {
		v, err := cast.ToFloat64E(d.Min)
		if err != nil {
			return Check{}, core.Configf(field+".min", "%v", err)
		}
		c.Min = &v
	}
	if d.Max != nil {
		v, err := cast.ToFloat64E(d.Max)
		if err != nil {
			return Check{}, core.Configf(field+".max", "%v", err)
		}
		c.Max = &v
	}
	for _, a := range d.Allowed {
		s, err := cast.ToStringE(a)
		if err != nil {
			return Check{}, core.Configf(field+".allowed", "%v", err)
		}
		c.Allowed = append(c.Allowed, s)
	}
	return c, nil
}
