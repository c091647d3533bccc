// Package local reads input tables from and writes run artifacts to the local
// filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

// Format is a table file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatParquet Format = "parquet"
)

// ParseFormat maps user input to a Format. Empty is allowed and means "detect".
func ParseFormat(raw string) (Format, error) {
	switch strings.TrimPrefix(strings.TrimSpace(strings.ToLower(raw)), ".") {
	case "":
		return "", nil
	case "csv":
		return FormatCSV, nil
	case "tsv", "tab":
		return FormatTSV, nil
	case "parquet", "pq":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want csv, tsv or parquet)", raw)
	}
}

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("cannot detect format of %s: no extension", path)
	}
	f, err := ParseFormat(ext)
	if err != nil {
		return "", fmt.Errorf("cannot detect format of %s: %w", path, err)
	}
	return f, nil
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string { return string(f) }

// ContentType returns the media type of files in f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatTSV:
		return "text/tab-separated-values"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

// LoadFile reads path as format, detecting it from the extension when empty.
func LoadFile(path string, format Format, opts ReadOptions) (*table.Table, error) {
	if format == "" {
		var err error
		if format, err = DetectFormat(path); err != nil {
			return nil, err
		}
	}
	if format == FormatParquet {
		return ReadParquet(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	if format == FormatTSV {
		opts.Comma = '\t'
	}
	t, err := ReadTable(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Render renders t in format.
func Render(t *table.Table, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return RenderDelimited(t, ',')
	case FormatTSV:
		return RenderDelimited(t, '\t')
	case FormatParquet:
		return RenderParquet(t)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// FileSource loads the input table from a local file.
type FileSource struct {
	Path    string
	Format  Format
	Options ReadOptions
}

var _ core.InputAdapter[*table.Table] = FileSource{}

func (s FileSource) Load(ctx context.Context) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadFile(s.Path, s.Format, s.Options)
}

// DirSink writes artifacts into one directory. Either every artifact is
// written or none of the files created by the call remain.
type DirSink struct {
	Dir string
}

var _ core.OutputAdapter[[]core.Artifact] = DirSink{}

func (s DirSink) Store(ctx context.Context, artifacts []core.Artifact) (err error) {
	if s.Dir == "" {
		return errors.New("output directory is required")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	var written []string
	defer func() {
		if err == nil {
			return
		}
		for _, p := range written {
			_ = os.Remove(p)
		}
	}()

	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a.Name == "" || filepath.Base(a.Name) != a.Name {
			return fmt.Errorf("invalid artifact name %q", a.Name)
		}
		p := filepath.Join(s.Dir, a.Name)
		tmp := p + ".tmp"
		if err := os.WriteFile(tmp, a.Data, 0o644); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("write %s: %w", a.Name, err)
		}
		if err := os.Rename(tmp, p); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("write %s: %w", a.Name, err)
		}
		written = append(written, p)
	}
	return nil
}
