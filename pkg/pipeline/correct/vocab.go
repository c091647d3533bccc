package correct

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadVocabulary reads a raw-variant to canonical-label map from a YAML
// mapping or a two-column CSV file. A CSV header row of "raw,canonical" is
// skipped.
func LoadVocabulary(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readVocabCSV(f)
	case ".yaml", ".yml":
		return readVocabYAML(f)
	default:
		return nil, fmt.Errorf("vocabulary %s: unsupported extension (want .yaml, .yml or .csv)", path)
	}
}

func readVocabYAML(r io.Reader) (map[string]string, error) {
	var out map[string]string
	if err := yaml.NewDecoder(r).Decode(&out); err != nil {
		if err == io.EOF {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("decode vocabulary yaml: %w", err)
	}
	return out, nil
}

func readVocabCSV(r io.Reader) (map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	out := make(map[string]string)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read vocabulary csv: %w", err)
		}
		if line == 1 && strings.EqualFold(rec[0], "raw") && strings.EqualFold(rec[1], "canonical") {
			continue
		}
		out[rec[0]] = rec[1]
	}
}
