// Package config loads the YAML run configuration and turns it into stage
// options. Every problem is reported as a *core.ConfigurationError before any
// data is read.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/correct"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/dedupe"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/dictionary"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/impute"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/io/local"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/normalize"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/outliers"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/profile"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/validate"
)

const DefaultBasename = "cleaned"

type Config struct {
	Input      Input            `yaml:"input"`
	Schema     schema.Schema    `yaml:"schema"`
	Validation Validation       `yaml:"validation"`
	Normalize  Normalize        `yaml:"normalize"`
	Missing    Ordered[Missing] `yaml:"missing"`
	Correct    Correct          `yaml:"correct"`
	Outliers   Outliers         `yaml:"outliers"`
	Dedupe     Dedupe           `yaml:"dedupe"`
	Profile    Profile          `yaml:"profile"`
	Output     Output           `yaml:"output"`
	Dictionary Dictionary       `yaml:"dictionary"`

	// dir resolves relative vocabulary files.
	dir string
}

type Input struct {
	Format     string   `yaml:"format"`
	Delimiter  string   `yaml:"delimiter"`
	NullTokens []string `yaml:"null_tokens"`
}

type Validation struct {
	Mode             string   `yaml:"mode"`
	AbortOnViolation bool     `yaml:"abort_on_violation"`
	DateLayouts      []string `yaml:"date_layouts"`
}

type Normalize struct {
	TextCase       string          `yaml:"text_case"`
	CaseOverrides  Ordered[string] `yaml:"case_overrides"`
	CollapseSpaces bool            `yaml:"collapse_spaces"`
}

// Missing is a column's missing-data policy. In YAML it is either a bare
// policy name or a mapping with policy and value.
type Missing struct {
	Policy string `yaml:"policy"`
	Value  any    `yaml:"value"`
}

func (m *Missing) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		m.Policy = n.Value
		return nil
	}
	type plain Missing
	var p plain
	if err := decodeStrict(n, &p); err != nil {
		return err
	}
	*m = Missing(p)
	return nil
}

type Correct struct {
	Ranges     Ordered[Range] `yaml:"ranges"`
	Vocabulary Ordered[Vocab] `yaml:"vocabulary"`
}

type Range struct {
	Min    any    `yaml:"min"`
	Max    any    `yaml:"max"`
	Action string `yaml:"action"`
}

type Vocab struct {
	Map             map[string]string `yaml:"map"`
	File            string            `yaml:"file"`
	CaseInsensitive bool              `yaml:"case_insensitive"`
}

type Outliers struct {
	Columns    []string `yaml:"columns"`
	Multiplier any      `yaml:"multiplier"`
}

type Dedupe struct {
	Keys             []string `yaml:"keys"`
	Policy           string   `yaml:"policy"`
	MatchMissingKeys bool     `yaml:"match_missing_keys"`
}

type Profile struct {
	Metrics []string `yaml:"metrics"`
}

type Output struct {
	Formats  []string `yaml:"formats"`
	Basename string   `yaml:"basename"`
}

type Dictionary struct {
	Columns Ordered[Annotation] `yaml:"columns"`
	// Samples is how many distinct example values a describer may see per column.
	Samples int `yaml:"samples"`
}

type Annotation struct {
	Description string `yaml:"description"`
	Unit        string `yaml:"unit"`
}

// Entry is one key of an Ordered mapping.
type Entry[T any] struct {
	Key   string
	Value T
}

// Ordered decodes a YAML mapping keeping document order.
type Ordered[T any] []Entry[T]

func (o *Ordered[T]) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	out := make(Ordered[T], 0, len(n.Content)/2)
	seen := make(map[string]struct{}, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		if _, dup := seen[key]; dup {
			return fmt.Errorf("line %d: duplicate key %q", n.Content[i].Line, key)
		}
		seen[key] = struct{}{}
		var v T
		if err := decodeStrict(n.Content[i+1], &v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, Entry[T]{Key: key, Value: v})
	}
	*o = out
	return nil
}

// decodeStrict decodes n with unknown fields rejected. Node.Decode does not
// carry the parent decoder's KnownFields setting.
func decodeStrict(n *yaml.Node, v any) error {
	b, err := yaml.Marshal(n)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// Load reads and checks the configuration at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.Configf("config", "%v", err)
	}
	defer f.Close()
	cfg, err := Parse(f)
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes a configuration document. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, core.Configf("config", "read: %v", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var ce *core.ConfigurationError
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, core.Configf("config", "%v", err)
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Check validates the parts that do not need a stage constructor.
func (c *Config) Check() error {
	if len(c.Schema.Columns) == 0 {
		return core.Configf("schema", "at least one column is required")
	}
	if err := c.Schema.Validate(); err != nil {
		return err
	}
	if _, err := c.ReadOptions(); err != nil {
		return err
	}
	if _, err := c.InputFormat(); err != nil {
		return err
	}
	if _, err := c.ValidateOptions(); err != nil {
		return err
	}
	if _, err := c.NormalizeOptions(); err != nil {
		return err
	}
	if _, err := c.OutputFormats(); err != nil {
		return err
	}
	if _, err := c.ProfileMetrics(); err != nil {
		return err
	}
	if c.Dictionary.Samples < 0 {
		return core.Configf("dictionary.samples", "must be >= 0")
	}
	if strings.ContainsAny(c.Output.Basename, `/\`) {
		return core.Configf("output.basename", "must not contain a path separator")
	}
	return nil
}

// InputFormat is the configured input format, or "" to detect from the path.
func (c *Config) InputFormat() (local.Format, error) {
	if strings.TrimSpace(c.Input.Format) == "" {
		return "", nil
	}
	f, err := local.ParseFormat(c.Input.Format)
	if err != nil {
		return "", core.Configf("input.format", "%v", err)
	}
	return f, nil
}

func (c *Config) ReadOptions() (local.ReadOptions, error) {
	opts := local.ReadOptions{NullTokens: c.Input.NullTokens}
	switch d := c.Input.Delimiter; {
	case d == "":
	case d == `\t` || d == "tab":
		opts.Comma = '\t'
	case utf8.RuneCountInString(d) == 1:
		opts.Comma, _ = utf8.DecodeRuneInString(d)
	default:
		return opts, core.Configf("input.delimiter", "must be a single character, got %q", d)
	}
	return opts, nil
}

func (c *Config) ValidateOptions() (validate.Options, error) {
	switch strings.TrimSpace(strings.ToLower(c.Validation.Mode)) {
	case "", "lazy", "strict", "fail-fast", "eager":
	default:
		return validate.Options{}, core.Configf("validation.mode", "unknown mode %q (want lazy or strict)", c.Validation.Mode)
	}
	return validate.Options{
		Mode:        validate.NormalizeMode(c.Validation.Mode),
		DateLayouts: c.Validation.DateLayouts,
	}, nil
}

func (c *Config) NormalizeOptions() (normalize.Options, error) {
	opts := normalize.Options{
		DateLayouts:    c.Validation.DateLayouts,
		CollapseSpaces: c.Normalize.CollapseSpaces,
	}
	tc, ok := normalize.ParseCase(c.Normalize.TextCase)
	if !ok {
		return opts, core.Configf("normalize.text_case", "unknown case %q", c.Normalize.TextCase)
	}
	opts.TextCase = tc
	for _, e := range c.Normalize.CaseOverrides {
		oc, ok := normalize.ParseCase(e.Value)
		if !ok {
			return opts, core.Configf("normalize.case_overrides."+e.Key, "unknown case %q", e.Value)
		}
		if opts.CaseOverrides == nil {
			opts.CaseOverrides = map[string]normalize.Case{}
		}
		opts.CaseOverrides[e.Key] = oc
	}
	return opts, nil
}

func (c *Config) ImputeRules() ([]impute.Rule, error) {
	rules := make([]impute.Rule, 0, len(c.Missing))
	for _, e := range c.Missing {
		p, ok := impute.ParsePolicy(e.Value.Policy)
		if !ok {
			return nil, core.Configf("missing."+e.Key+".policy", "unknown policy %q", e.Value.Policy)
		}
		rules = append(rules, impute.Rule{Column: e.Key, Policy: p, Value: e.Value.Value})
	}
	return rules, nil
}

// CorrectOptions resolves range bounds and loads vocabulary files.
func (c *Config) CorrectOptions() (correct.Options, error) {
	var opts correct.Options
	for _, e := range c.Correct.Ranges {
		field := "correct.ranges." + e.Key
		r := correct.RangeRule{Column: e.Key}
		var err error
		if r.Min, err = optFloat(e.Value.Min, field+".min"); err != nil {
			return opts, err
		}
		if r.Max, err = optFloat(e.Value.Max, field+".max"); err != nil {
			return opts, err
		}
		a, ok := correct.ParseAction(e.Value.Action)
		if !ok {
			return opts, core.Configf(field+".action", "unknown action %q", e.Value.Action)
		}
		r.Action = a
		opts.Ranges = append(opts.Ranges, r)
	}
	for _, e := range c.Correct.Vocabulary {
		field := "correct.vocabulary." + e.Key
		m := make(map[string]string, len(e.Value.Map))
		if e.Value.File != "" {
			path := e.Value.File
			if !filepath.IsAbs(path) && c.dir != "" {
				path = filepath.Join(c.dir, path)
			}
			loaded, err := correct.LoadVocabulary(path)
			if err != nil {
				return opts, core.Configf(field+".file", "%v", err)
			}
			for k, v := range loaded {
				m[k] = v
			}
		}
		// Inline entries win over the file.
		for k, v := range e.Value.Map {
			m[k] = v
		}
		opts.Vocab = append(opts.Vocab, correct.VocabRule{Column: e.Key, Map: m, CaseInsensitive: e.Value.CaseInsensitive})
	}
	return opts, nil
}

func (c *Config) OutlierOptions() (outliers.Options, error) {
	opts := outliers.Options{Columns: c.Outliers.Columns, Multiplier: outliers.DefaultMultiplier}
	if c.Outliers.Multiplier != nil {
		k, err := cast.ToFloat64E(c.Outliers.Multiplier)
		if err != nil {
			return opts, core.Configf("outliers.multiplier", "%v", err)
		}
		if k <= 0 || math.IsInf(k, 0) || math.IsNaN(k) {
			return opts, core.Configf("outliers.multiplier", "must be a positive number, got %v", c.Outliers.Multiplier)
		}
		opts.Multiplier = k
	}
	return opts, nil
}

// DedupeOptions defaults the keys to every schema column and the policy to
// keep-first.
func (c *Config) DedupeOptions() (dedupe.Options, error) {
	opts := dedupe.Options{Keys: c.Dedupe.Keys, MatchMissingKeys: c.Dedupe.MatchMissingKeys}
	if len(opts.Keys) == 0 {
		opts.Keys = c.Schema.Names()
	}
	p, ok := dedupe.ParsePolicy(c.Dedupe.Policy)
	if !ok {
		return opts, core.Configf("dedupe.policy", "unknown policy %q", c.Dedupe.Policy)
	}
	opts.Policy = p
	return opts, nil
}

func (c *Config) ProfileMetrics() ([]profile.Metric, error) {
	return profile.ParseMetrics(c.Profile.Metrics)
}

// OutputFormats defaults to csv and parquet.
func (c *Config) OutputFormats() ([]local.Format, error) {
	if len(c.Output.Formats) == 0 {
		return []local.Format{local.FormatCSV, local.FormatParquet}, nil
	}
	seen := map[local.Format]bool{}
	var out []local.Format
	for i, raw := range c.Output.Formats {
		f, err := local.ParseFormat(raw)
		if err == nil && f == "" {
			err = errors.New("empty format")
		}
		if err != nil {
			return nil, core.Configf(fmt.Sprintf("output.formats[%d]", i), "%v", err)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

func (c *Config) Basename() string {
	if b := strings.TrimSpace(c.Output.Basename); b != "" {
		return b
	}
	return DefaultBasename
}

func (c *Config) Annotations() map[string]dictionary.Annotation {
	if len(c.Dictionary.Columns) == 0 {
		return nil
	}
	out := make(map[string]dictionary.Annotation, len(c.Dictionary.Columns))
	for _, e := range c.Dictionary.Columns {
		out[e.Key] = dictionary.Annotation{Description: e.Value.Description, Unit: e.Value.Unit}
	}
	return out
}

func optFloat(v any, field string) (*float64, error) {
	if v == nil {
		return nil, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, core.Configf(field, "%v", err)
	}
	return &f, nil
}
