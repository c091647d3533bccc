// Package normalize standardizes column types and formats. Values that cannot
// be parsed become missing and are counted as coercion losses; they are never
// raised as errors.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/changelog"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/coerce"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

const StageName = "normalize"

// Case is a text case convention.
type Case string

const (
	CaseNone  Case = "none"
	CaseLower Case = "lower"
	CaseUpper Case = "upper"
	CaseTitle Case = "title"
)

// ParseCase maps user input to a Case.
func ParseCase(raw string) (Case, bool) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "", "none", "keep":
		return CaseNone, true
	case "lower", "lowercase":
		return CaseLower, true
	case "upper", "uppercase":
		return CaseUpper, true
	case "title", "titlecase":
		return CaseTitle, true
	default:
		return "", false
	}
}

// Options configure the Normalizer.
type Options struct {
	DateLayouts []string
	// TextCase applies to every text and categorical column without an override.
	TextCase Case
	// CaseOverrides maps column name to its own case convention.
	CaseOverrides map[string]Case
	// CollapseSpaces squeezes internal whitespace runs into a single space.
	CollapseSpaces bool
}

// Result is the normalized table plus what was lost on the way.
type Result struct {
	Table    *table.Table
	Losses   []core.CoercionLoss
	Fragment changelog.Fragment
}

// Normalizer converts each schema column to its declared representation.
type Normalizer struct {
	schema schema.Schema
	opts   Options
	title  cases.Caser
}

func New(s schema.Schema, opts Options) *Normalizer {
	if opts.TextCase == "" {
		opts.TextCase = CaseNone
	}
	return &Normalizer{schema: s, opts: opts, title: cases.Title(language.Und)}
}

func (n *Normalizer) Name() string { return StageName }

// Apply returns a normalized copy of in. Running it on its own output changes nothing.
func (n *Normalizer) Apply(in *table.Table) (Result, error) {
	t := in.Clone()
	frag := changelog.NewFragment(StageName)
	var losses []core.CoercionLoss

	added := 0
	for _, col := range n.schema.Columns {
		if !t.Has(col.Name) {
			if err := t.AddColumn(table.Column{Name: col.Name, Type: col.Type}, table.Missing()); err != nil {
				return Result{}, err
			}
			added++
			continue
		}

		lost := 0
		for i := 0; i < t.Len(); i++ {
			raw := t.Get(i, col.Name)
			out, ok := n.value(raw, col)
			if !ok {
				losses = append(losses, core.CoercionLoss{Row: i, Column: col.Name, Raw: raw.String(), Type: string(col.Type)})
				lost++
			}
			if err := t.Set(i, col.Name, out); err != nil {
				return Result{}, err
			}
		}
		t.SetColumnType(col.Name, col.Type)
		if lost > 0 {
			frag.Set(changelog.Key("coercion_loss", col.Name), lost)
		}
	}
	frag.Set("coercion_loss_total", len(losses))
	if added > 0 {
		frag.Set("columns_added", added)
	}
	return Result{Table: t, Losses: losses, Fragment: frag}, nil
}

func (n *Normalizer) value(v table.Value, col schema.Column) (table.Value, bool) {
	if v.IsMissing() {
		return v, true
	}
	if col.Type.IsText() {
		s := n.text(v.String(), col.Name)
		if s == "" {
			return table.Missing(), true
		}
		return table.String(s), true
	}
	if s, isStr := v.Str(); isStr {
		if strings.TrimSpace(s) == "" {
			return table.Missing(), true
		}
	}
	return coerce.Value(v, col.Type, coerce.Options{DateLayouts: n.opts.DateLayouts})
}

func (n *Normalizer) text(s, column string) string {
	s = strings.TrimSpace(s)
	if n.opts.CollapseSpaces {
		s = strings.Join(strings.Fields(s), " ")
	}
	c := n.opts.TextCase
	if o, ok := n.opts.CaseOverrides[column]; ok {
		c = o
	}
	switch c {
	case CaseLower:
		return strings.ToLower(s)
	case CaseUpper:
		return strings.ToUpper(s)
	case CaseTitle:
		return n.title.String(s)
	default:
		return s
	}
}
