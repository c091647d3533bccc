// Package audit re-checks the final table and freezes the run's change log
// into a read-only report.
package audit

import (
	"encoding/json"
	"time"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/changelog"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/profile"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/validate"
)

const StageName = "audit"

// Meta identifies the run a report belongs to.
type Meta struct {
	RunID     string
	Version   string
	StartedAt time.Time
}

// Report is the immutable result of a run.
type Report struct {
	meta       Meta
	finishedAt time.Time
	rowsIn     int
	rowsOut    int
	violations []core.Violation
	profile    profile.Profile
	log        changelog.Log
}

func (r *Report) RunID() string            { return r.meta.RunID }
func (r *Report) Version() string          { return r.meta.Version }
func (r *Report) StartedAt() time.Time     { return r.meta.StartedAt }
func (r *Report) FinishedAt() time.Time    { return r.finishedAt }
func (r *Report) RowsIn() int              { return r.rowsIn }
func (r *Report) RowsOut() int             { return r.rowsOut }
func (r *Report) Profile() profile.Profile { return r.profile }
func (r *Report) ChangeLog() changelog.Log { return r.log }

// Violations returns a copy of the final lazy validation result.
func (r *Report) Violations() []core.Violation {
	return append([]core.Violation(nil), r.violations...)
}

type reportJSON struct {
	RunID      string           `json:"run_id"`
	Version    string           `json:"version"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	RowsIn     int              `json:"rows_input"`
	RowsOut    int              `json:"rows_output"`
	Violations []core.Violation `json:"violations"`
	Profile    profile.Profile  `json:"profile"`
	ChangeLog  changelog.Log    `json:"change_log"`
}

func (r *Report) MarshalJSON() ([]byte, error) {
	v := r.violations
	if v == nil {
		v = []core.Violation{}
	}
	return json.Marshal(reportJSON{
		RunID:      r.meta.RunID,
		Version:    r.meta.Version,
		StartedAt:  r.meta.StartedAt.UTC(),
		FinishedAt: r.finishedAt.UTC(),
		RowsIn:     r.rowsIn,
		RowsOut:    r.rowsOut,
		Violations: v,
		Profile:    r.profile,
		ChangeLog:  r.log,
	})
}

// Auditor produces the report for a finished table.
type Auditor struct {
	schema      schema.Schema
	metrics     []profile.Metric
	dateLayouts []string
	now         func() time.Time
}

// Option customizes an Auditor.
type Option func(*Auditor)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Auditor) { a.now = now }
}

// WithDateLayouts sets the layouts used when re-validating raw date text.
func WithDateLayouts(layouts []string) Option {
	return func(a *Auditor) { a.dateLayouts = layouts }
}

func New(s schema.Schema, metrics []profile.Metric, opts ...Option) *Auditor {
	a := &Auditor{schema: s, metrics: metrics, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Auditor) Name() string { return StageName }

// Audit re-validates t lazily, re-profiles it and merges the stage fragments
// in the order given (later fragments win on key collisions). Remaining
// violations are part of the report, not an error.
func (a *Auditor) Audit(t *table.Table, rowsIn int, meta Meta, fragments ...changelog.Fragment) *Report {
	violations, _ := validate.Validate(t, a.schema, validate.Options{Mode: validate.ModeLazy, DateLayouts: a.dateLayouts})

	final := changelog.NewFragment(StageName)
	final.Set("rows_input", rowsIn)
	final.Set("rows_output", t.Len())
	final.Set("validation_violations_final", len(violations))

	merged := append(append([]changelog.Fragment(nil), fragments...), final)
	return &Report{
		meta:       meta,
		finishedAt: a.now(),
		rowsIn:     rowsIn,
		rowsOut:    t.Len(),
		violations: violations,
		profile:    profile.Compute(t, a.metrics),
		log:        changelog.Merge(merged...),
	}
}
