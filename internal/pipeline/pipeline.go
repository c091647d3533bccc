// Package pipeline runs the cleaning stages over one table in a fixed order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/shpitdev/records-cleaning-pipeline/internal/config"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/audit"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/changelog"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/correct"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/dedupe"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/impute"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/io/local"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/normalize"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/outliers"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/profile"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/validate"
)

const StageProfile = "profile"

// Stage is a table-to-table step that reports its counters.
type Stage interface {
	Name() string
	Apply(*table.Table) (*table.Table, changelog.Fragment, error)
}

// StageLog is the record of one completed stage.
type StageLog struct {
	Stage    string
	RowsIn   int
	RowsOut  int
	Duration time.Duration
	Fragment changelog.Fragment
}

// Result is everything a successful run produced.
type Result struct {
	Table      *table.Table
	Report     *audit.Report
	Initial    profile.Profile
	Violations []core.Violation
	Losses     []core.CoercionLoss
	Stages     []StageLog
}

type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

type Pipeline struct {
	schema     schema.Schema
	validate   validate.Options
	abort      bool
	metrics    []profile.Metric
	normalizer *normalize.Normalizer
	stages     []Stage
	auditor    *audit.Auditor

	log *slog.Logger
	now func() time.Time
}

// New builds every stage from cfg. Any problem is a *core.ConfigurationError
// and nothing has been read yet.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, core.Configf("config", "is required")
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	p := &Pipeline{schema: cfg.Schema, abort: cfg.Validation.AbortOnViolation, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(p)
	}

	var err error
	if p.validate, err = cfg.ValidateOptions(); err != nil {
		return nil, err
	}
	if p.metrics, err = cfg.ProfileMetrics(); err != nil {
		return nil, err
	}
	no, err := cfg.NormalizeOptions()
	if err != nil {
		return nil, err
	}
	p.normalizer = normalize.New(cfg.Schema, no)

	rules, err := cfg.ImputeRules()
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if err := p.requireColumn("missing."+r.Column, r.Column); err != nil {
			return nil, err
		}
	}
	resolver, err := impute.New(rules, cfg.Schema)
	if err != nil {
		return nil, err
	}
	nulls := nullTokens(cfg)
	for _, r := range rules {
		if r.Policy != impute.PolicyConstant {
			continue
		}
		if tok, ok := nulls[strings.TrimSpace(cast.ToString(r.Value))]; ok {
			return nil, core.Configf("missing."+r.Column+".value", "%q is read back as missing", tok)
		}
	}

	co, err := cfg.CorrectOptions()
	if err != nil {
		return nil, err
	}
	for _, r := range co.Ranges {
		if err := p.requireColumn("correct.ranges."+r.Column, r.Column); err != nil {
			return nil, err
		}
	}
	for _, v := range co.Vocab {
		if err := p.requireColumn("correct.vocabulary."+v.Column, v.Column); err != nil {
			return nil, err
		}
	}
	for _, v := range co.Vocab {
		for from, to := range v.Map {
			if _, ok := nulls[strings.TrimSpace(to)]; ok {
				return nil, core.Configf("correct.vocabulary."+v.Column, "%q maps to %q, which is read back as missing", from, to)
			}
		}
	}
	corrector, err := correct.New(co, cfg.Schema)
	if err != nil {
		return nil, err
	}

	oo, err := cfg.OutlierOptions()
	if err != nil {
		return nil, err
	}
	flagger, err := outliers.New(oo, cfg.Schema)
	if err != nil {
		return nil, err
	}
	for i, c := range flagger.Columns() {
		if err := p.requireColumn(fmt.Sprintf("outliers.columns[%d]", i), c); err != nil {
			return nil, err
		}
	}

	do, err := cfg.DedupeOptions()
	if err != nil {
		return nil, err
	}
	for i, k := range do.Keys {
		if err := p.requireColumn(fmt.Sprintf("dedupe.keys[%d]", i), k); err != nil {
			return nil, err
		}
	}
	deduper, err := dedupe.New(do)
	if err != nil {
		return nil, err
	}

	p.stages = []Stage{resolver, corrector, flagger, deduper}
	p.auditor = audit.New(cfg.Schema, p.metrics, audit.WithClock(p.now), audit.WithDateLayouts(p.validate.DateLayouts))
	return p, nil
}

// nullTokens is the set of cell spellings the loader turns into missing.
// Configured replacement values must stay outside it so written output
// reads back unchanged.
func nullTokens(cfg *config.Config) map[string]string {
	toks := cfg.Input.NullTokens
	if toks == nil {
		toks = local.DefaultNullTokens
	}
	out := make(map[string]string, len(toks))
	for _, t := range toks {
		out[t] = t
	}
	return out
}

func (p *Pipeline) requireColumn(field, name string) error {
	if _, ok := p.schema.Lookup(name); !ok {
		return core.Configf(field, "column %q is not in the schema", name)
	}
	return nil
}

// Schema returns the schema the pipeline validates against.
func (p *Pipeline) Schema() schema.Schema { return p.schema }

// Validate runs only the validator, in the configured mode.
func (p *Pipeline) Validate(t *table.Table) ([]core.Violation, error) {
	return validate.Validate(t, p.schema, p.validate)
}

// Run executes profile, validate, normalize, impute, correct, outliers,
// dedupe and audit in that order. The input table is not modified. A failed
// stage is returned as a *core.StageError.
func (p *Pipeline) Run(ctx context.Context, in *table.Table, meta audit.Meta) (*Result, error) {
	if in == nil {
		return nil, &core.StageError{Stage: StageProfile, Err: errors.New("no input table")}
	}
	res := &Result{}
	rowsIn := in.Len()

	start := p.now()
	res.Initial = profile.Compute(in, p.metrics)
	p.logStage(StageLog{Stage: StageProfile, RowsIn: rowsIn, RowsOut: rowsIn, Duration: p.now().Sub(start)})

	if err := ctx.Err(); err != nil {
		return nil, &core.StageError{Stage: validate.StageName, Err: err}
	}
	start = p.now()
	violations, verr := validate.Validate(in, p.schema, p.validate)
	res.Violations = violations
	if verr != nil {
		if p.abort {
			return nil, &core.StageError{Stage: validate.StageName, Err: verr}
		}
		p.log.Warn("schema violations in input", "count", len(violations), "mode", string(p.validate.Mode))
	}
	fragments := []changelog.Fragment{validate.Fragment(violations)}
	res.Stages = append(res.Stages, p.logStage(StageLog{
		Stage: validate.StageName, RowsIn: rowsIn, RowsOut: rowsIn, Duration: p.now().Sub(start), Fragment: fragments[0],
	}))

	if err := ctx.Err(); err != nil {
		return nil, &core.StageError{Stage: normalize.StageName, Err: err}
	}
	start = p.now()
	nr, err := p.normalizer.Apply(in)
	if err != nil {
		return nil, &core.StageError{Stage: normalize.StageName, Err: err}
	}
	res.Losses = nr.Losses
	fragments = append(fragments, nr.Fragment)
	res.Stages = append(res.Stages, p.logStage(StageLog{
		Stage: normalize.StageName, RowsIn: rowsIn, RowsOut: nr.Table.Len(), Duration: p.now().Sub(start), Fragment: nr.Fragment,
	}))

	t := nr.Table
	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, &core.StageError{Stage: s.Name(), Err: err}
		}
		start = p.now()
		before := t.Len()
		out, frag, err := s.Apply(t)
		if err != nil {
			return nil, &core.StageError{Stage: s.Name(), Err: err}
		}
		t = out
		fragments = append(fragments, frag)
		res.Stages = append(res.Stages, p.logStage(StageLog{
			Stage: s.Name(), RowsIn: before, RowsOut: t.Len(), Duration: p.now().Sub(start), Fragment: frag,
		}))
	}

	if err := ctx.Err(); err != nil {
		return nil, &core.StageError{Stage: audit.StageName, Err: err}
	}
	start = p.now()
	res.Report = p.auditor.Audit(t, rowsIn, meta, fragments...)
	res.Table = t
	p.logStage(StageLog{Stage: audit.StageName, RowsIn: t.Len(), RowsOut: t.Len(), Duration: p.now().Sub(start)})
	return res, nil
}

func (p *Pipeline) logStage(s StageLog) StageLog {
	p.log.Info("stage done",
		"stage", s.Stage,
		"rows_in", s.RowsIn,
		"rows_out", s.RowsOut,
		"duration", s.Duration.Round(time.Millisecond),
	)
	return s
}
