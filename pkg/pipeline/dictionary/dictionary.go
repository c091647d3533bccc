// Package dictionary builds the data dictionary that ships with a cleaned table.
package dictionary

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/impute"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/outliers"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

// Entry is one row of the dictionary.
type Entry struct {
	Column        string   `json:"column"`
	InferredType  string   `json:"inferred_type"`
	Description   string   `json:"description"`
	Unit          string   `json:"unit"`
	AllowedValues []string `json:"allowed_values,omitempty"`
}

// Annotation is a configured description and unit for a column.
type Annotation struct {
	Description string
	Unit        string
}

// Describer fills in descriptions and units the configuration left blank.
type Describer interface {
	Describe(ctx context.Context, entries []Entry) ([]Entry, error)
}

// Build derives one entry per table column, in column order.
func Build(t *table.Table, s schema.Schema, notes map[string]Annotation) []Entry {
	out := make([]Entry, 0, t.Width())
	for _, col := range t.Columns() {
		e := Entry{Column: col.Name, InferredType: string(col.Type)}
		if sc, ok := s.Lookup(col.Name); ok {
			e.InferredType = string(sc.Type)
			e.AllowedValues = append([]string(nil), sc.Check.Allowed...)
		}
		if e.InferredType == "" {
			e.InferredType = string(Infer(t.Column(col.Name)))
		}
		if base, ok := strings.CutSuffix(col.Name, impute.FlagSuffix); ok && base != "" {
			e.Description = fmt.Sprintf("True when %s was missing in the input and had to be resolved.", base)
		}
		if base, ok := strings.CutSuffix(col.Name, outliers.FlagSuffix); ok && base != "" {
			e.Description = fmt.Sprintf("True when %s lies outside the interquartile fences.", base)
		}
		if n, ok := notes[col.Name]; ok {
			if n.Description != "" {
				e.Description = n.Description
			}
			e.Unit = n.Unit
		}
		out = append(out, e)
	}
	return out
}

// Infer guesses the logical type of an undeclared column from its values.
// Mixed kinds fall back to text.
func Infer(vals []table.Value) schema.Type {
	var kind table.Kind
	integral := true
	for _, v := range vals {
		if v.IsMissing() {
			continue
		}
		if kind != table.KindMissing && v.Kind() != kind {
			return schema.TypeText
		}
		kind = v.Kind()
		if f, ok := v.Num(); ok && f != float64(int64(f)) {
			integral = false
		}
	}
	switch kind {
	case table.KindNumber:
		if integral {
			return schema.TypeInteger
		}
		return schema.TypeNumeric
	case table.KindDate:
		return schema.TypeDate
	case table.KindBool:
		return schema.TypeBoolean
	default:
		return schema.TypeText
	}
}

// Incomplete returns the entries missing a description.
func Incomplete(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Description == "" {
			out = append(out, e)
		}
	}
	return out
}

// Merge fills blank descriptions and units in entries from described, matched
// by column. Values already present are never overwritten.
func Merge(entries, described []Entry) []Entry {
	byCol := make(map[string]Entry, len(described))
	for _, d := range described {
		byCol[d.Column] = d
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if d, ok := byCol[e.Column]; ok {
			if e.Description == "" {
				e.Description = d.Description
			}
			if e.Unit == "" {
				e.Unit = d.Unit
			}
		}
		out[i] = e
	}
	return out
}

// Header is the CSV header of the rendered dictionary.
var Header = []string{"column", "inferred_type", "description", "unit", "allowed_values"}

// RenderCSV renders entries as CSV; allowed values are joined with "|".
func RenderCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := w.Write([]string{e.Column, e.InferredType, e.Description, e.Unit, strings.Join(e.AllowedValues, "|")}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("render dictionary: %w", err)
	}
	return buf.Bytes(), nil
}
