// Package table is the single in-memory dataset every pipeline stage consumes and produces.
package table

import (
	"fmt"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
)

// Column is a named, logically typed column.
type Column struct {
	Name string
	Type schema.Type
}

// Table is an ordered set of rows aligned positionally to its columns.
//
// A Table is exclusively owned by whoever holds it; stages Clone before changing it.
type Table struct {
	cols  []Column
	index map[string]int
	rows  [][]Value
}

// New creates an empty table with the given columns.
func New(cols ...Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(cols))}
	for _, c := range cols {
		if err := t.addColumnDef(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// FromStrings builds an all-text table; empty cells become missing.
func FromStrings(header []string, records [][]string) (*Table, error) {
	cols := make([]Column, len(header))
	for i, h := range header {
		cols[i] = Column{Name: h}
	}
	t, err := New(cols...)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		row := make([]Value, len(rec))
		for i, s := range rec {
			if s != "" {
				row[i] = String(s)
			}
		}
		if err := t.Append(row); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) addColumnDef(c Column) error {
	if c.Name == "" {
		return fmt.Errorf("column name must not be empty")
	}
	if _, dup := t.index[c.Name]; dup {
		return fmt.Errorf("duplicate column %q", c.Name)
	}
	t.index[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// Columns returns a copy of the column definitions.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.cols))
	copy(out, t.cols)
	return out
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of the named column.
func (t *Table) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// ColumnType returns the logical type of the named column.
func (t *Table) ColumnType(name string) schema.Type {
	if i, ok := t.index[name]; ok {
		return t.cols[i].Type
	}
	return schema.TypeUnknown
}

func (t *Table) SetColumnType(name string, typ schema.Type) {
	if i, ok := t.index[name]; ok {
		t.cols[i].Type = typ
	}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Width returns the number of columns.
func (t *Table) Width() int { return len(t.cols) }

// Row returns row i. The slice aliases table storage.
func (t *Table) Row(i int) []Value { return t.rows[i] }

// Get returns the cell at row i of the named column; unknown columns read as missing.
func (t *Table) Get(i int, name string) Value {
	j, ok := t.index[name]
	if !ok {
		return Missing()
	}
	return t.rows[i][j]
}

// Set writes the cell at row i of the named column.
func (t *Table) Set(i int, name string, v Value) error {
	j, ok := t.index[name]
	if !ok {
		return fmt.Errorf("unknown column %q", name)
	}
	t.rows[i][j] = v
	return nil
}

// Column returns a copy of every value in the named column.
func (t *Table) Column(name string) []Value {
	j, ok := t.index[name]
	if !ok {
		return nil
	}
	out := make([]Value, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[j]
	}
	return out
}

// Append adds a row; it must have exactly one value per column.
func (t *Table) Append(row []Value) error {
	if len(row) != len(t.cols) {
		return fmt.Errorf("row has %d values, want %d", len(row), len(t.cols))
	}
	t.rows = append(t.rows, row)
	return nil
}

// AddColumn appends a column and fills every existing row with fill.
func (t *Table) AddColumn(c Column, fill Value) error {
	if err := t.addColumnDef(c); err != nil {
		return err
	}
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], fill)
	}
	return nil
}

// Filter keeps the rows for which keep returns true and reports how many were removed.
func (t *Table) Filter(keep func(i int, row []Value) bool) int {
	kept := t.rows[:0]
	removed := 0
	for i, r := range t.rows {
		if keep(i, r) {
			kept = append(kept, r)
			continue
		}
		removed++
	}
	for i := len(kept); i < len(t.rows); i++ {
		t.rows[i] = nil
	}
	t.rows = kept
	return removed
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{
		cols:  make([]Column, len(t.cols)),
		index: make(map[string]int, len(t.index)),
		rows:  make([][]Value, len(t.rows)),
	}
	copy(out.cols, t.cols)
	for k, v := range t.index {
		out.index[k] = v
	}
	for i, r := range t.rows {
		cp := make([]Value, len(r))
		copy(cp, r)
		out.rows[i] = cp
	}
	return out
}

// Equal reports whether both tables have the same columns (names and types) and cell values.
func (t *Table) Equal(o *Table) bool {
	if len(t.cols) != len(o.cols) || len(t.rows) != len(o.rows) {
		return false
	}
	for i := range t.cols {
		if t.cols[i] != o.cols[i] {
			return false
		}
	}
	for i := range t.rows {
		for j := range t.rows[i] {
			if !t.rows[i][j].Equal(o.rows[i][j]) {
				return false
			}
		}
	}
	return true
}

// Strings renders every cell in canonical text form.
func (t *Table) Strings() [][]string {
	out := make([][]string, len(t.rows))
	for i, r := range t.rows {
		rec := make([]string, len(r))
		for j, v := range r {
			rec[j] = v.String()
		}
		out[i] = rec
	}
	return out
}

// MissingCount returns the number of missing cells in row i.
func (t *Table) MissingCount(i int) int {
	n := 0
	for _, v := range t.rows[i] {
		if v.IsMissing() {
			n++
		}
	}
	return n
}
