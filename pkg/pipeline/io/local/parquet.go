package local

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	parquetlocal "github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/marshal"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

const (
	parquetParallelism = 4
	parquetRoot        = "parquet_go_root"
)

// ReadParquet reads a flat Parquet file into an untyped table. Physical
// values become their canonical text; nulls become missing.
func ReadParquet(path string) (*table.Table, error) {
	pf, err := parquetlocal.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer pf.Close()

	pr, err := reader.NewParquetColumnReader(pf, parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("open parquet reader: %w", err)
	}
	defer pr.ReadStop()

	// The reader rewrites footer names to internal identifiers; the
	// schema handler keeps the names as written.
	sh := pr.SchemaHandler
	var names []string
	for i := 1; i < len(sh.SchemaElements); i++ {
		if sh.SchemaElements[i].GetNumChildren() > 0 {
			return nil, fmt.Errorf("parquet column %q is nested; only flat files are supported", sh.GetExName(i))
		}
		names = append(names, sh.GetExName(i))
	}
	if err := checkParquetNames(names); err != nil {
		return nil, err
	}
	n := pr.GetNumRows()

	records := make([][]string, n)
	for i := range records {
		records[i] = make([]string, len(names))
	}
	for j, name := range names {
		vals, _, _, err := pr.ReadColumnByIndex(int64(j), n)
		if err != nil {
			return nil, fmt.Errorf("read parquet column %q: %w", name, err)
		}
		if int64(len(vals)) != n {
			return nil, fmt.Errorf("parquet column %q has %d values, want %d", name, len(vals), n)
		}
		for i, v := range vals {
			records[i][j] = parquetText(v)
		}
	}

	t, err := table.FromStrings(names, records)
	if err != nil {
		return nil, fmt.Errorf("parquet schema: %w", err)
	}
	return t, nil
}

func parquetText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

type parquetKind int

const (
	parquetString parquetKind = iota
	parquetDouble
	parquetInt64
	parquetBool
)

// parquetKinds picks the physical type per column. A typed column only keeps
// its physical type when every present value has the matching kind.
func parquetKinds(t *table.Table) []parquetKind {
	cols := t.Columns()
	out := make([]parquetKind, len(cols))
	for j, c := range cols {
		want := table.KindString
		switch c.Type {
		case schema.TypeNumeric:
			out[j], want = parquetDouble, table.KindNumber
		case schema.TypeInteger:
			out[j], want = parquetInt64, table.KindNumber
		case schema.TypeBoolean:
			out[j], want = parquetBool, table.KindBool
		}
		if out[j] == parquetString {
			continue
		}
		for _, v := range t.Column(c.Name) {
			if !v.IsMissing() && v.Kind() != want {
				out[j] = parquetString
				break
			}
		}
	}
	return out
}

// checkParquetNames rejects column sets parquet-go cannot keep apart. Field
// paths are built from an identifier form of each name, so "id" and "Id" or
// "a b" and "a32b" would share one column.
func checkParquetNames(names []string) error {
	seen := make(map[string]string, len(names))
	for _, name := range names {
		if name == "" {
			return fmt.Errorf("parquet: empty column name")
		}
		in := common.StringToVariableName(name)
		if prev, ok := seen[in]; ok {
			return fmt.Errorf("parquet: columns %q and %q map to the same field %q", prev, name, in)
		}
		seen[in] = name
	}
	return nil
}

// parquetSchema builds the flat schema directly as schema elements, so
// column names are stored verbatim.
func parquetSchema(names []string, kinds []parquetKind) []*parquet.SchemaElement {
	root := parquet.NewSchemaElement()
	root.Name = parquetRoot
	root.RepetitionType = parquet.FieldRepetitionTypePtr(parquet.FieldRepetitionType_REQUIRED)
	n := int32(len(names))
	root.NumChildren = &n

	out := []*parquet.SchemaElement{root}
	for j, name := range names {
		el := parquet.NewSchemaElement()
		el.Name = name
		el.RepetitionType = parquet.FieldRepetitionTypePtr(parquet.FieldRepetitionType_OPTIONAL)
		switch kinds[j] {
		case parquetDouble:
			el.Type = parquet.TypePtr(parquet.Type_DOUBLE)
		case parquetInt64:
			el.Type = parquet.TypePtr(parquet.Type_INT64)
		case parquetBool:
			el.Type = parquet.TypePtr(parquet.Type_BOOLEAN)
		default:
			el.Type = parquet.TypePtr(parquet.Type_BYTE_ARRAY)
			el.ConvertedType = parquet.ConvertedTypePtr(parquet.ConvertedType_UTF8)
		}
		out = append(out, el)
	}
	return out
}

// RenderParquet renders t as a Snappy-compressed Parquet file in memory.
func RenderParquet(t *table.Table) ([]byte, error) {
	names := t.ColumnNames()
	if err := checkParquetNames(names); err != nil {
		return nil, err
	}
	kinds := parquetKinds(t)

	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewParquetWriter(pfw, parquetSchema(names, kinds), parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("parquet schema: %w", err)
	}
	// Rows go in as JSON documents keyed by column name.
	pw.MarshalFunc = marshal.MarshalJSON
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := 0; i < t.Len(); i++ {
		row := make(map[string]any, len(names))
		for j, v := range t.Row(i) {
			row[names[j]] = parquetValue(v, kinds[j])
		}
		doc, err := json.Marshal(row)
		if err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("encode row %d: %w", i, err)
		}
		if err := pw.Write(string(doc)); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finish parquet: %w", err)
	}
	if err := pfw.Close(); err != nil {
		return nil, fmt.Errorf("finish parquet: %w", err)
	}
	return buf.Bytes(), nil
}

func parquetValue(v table.Value, k parquetKind) any {
	if v.IsMissing() {
		return nil
	}
	switch k {
	case parquetDouble:
		f, _ := v.Num()
		return f
	case parquetInt64:
		f, _ := v.Num()
		return int64(f)
	case parquetBool:
		b, _ := v.Flag()
		return b
	default:
		return v.String()
	}
}
