package local

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

// DefaultNullTokens are the cell spellings read as missing.
var DefaultNullTokens = []string{"", "NA", "N/A", "NaN", "null", "NULL", "None"}

// ReadOptions tune delimited reading.
type ReadOptions struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// NullTokens replaces DefaultNullTokens when non-nil.
	NullTokens []string
}

// ReadTable reads delimited text into an untyped table. The first record is
// the header; every cell is a string or missing.
func ReadTable(r io.Reader, opts ReadOptions) (*table.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	if opts.Comma == '\t' {
		cr.LazyQuotes = true
	}

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read header: input is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	names := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		names[i] = h
	}

	nulls := opts.NullTokens
	if nulls == nil {
		nulls = DefaultNullTokens
	}
	isNull := make(map[string]struct{}, len(nulls))
	for _, n := range nulls {
		isNull[n] = struct{}{}
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(rec) != len(names) {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: record has %d fields, header has %d", line, len(rec), len(names))
		}
		for i, cell := range rec {
			if _, ok := isNull[strings.TrimSpace(cell)]; ok {
				rec[i] = ""
			}
		}
		records = append(records, rec)
	}

	t, err := table.FromStrings(names, records)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return t, nil
}

// WriteTable writes t as delimited text with a header row. Cells use their
// canonical text form; missing is the empty field.
func WriteTable(w io.Writer, t *table.Table, comma rune) error {
	cw := csv.NewWriter(w)
	if comma != 0 {
		cw.Comma = comma
	}
	if err := cw.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(t.Strings()); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// RenderDelimited renders t in memory.
func RenderDelimited(t *table.Table, comma rune) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteTable(&buf, t, comma); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
