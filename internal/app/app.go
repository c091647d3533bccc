// Package app wires loading, cleaning and artifact output into the commands
// the cleaner binary exposes.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/records-cleaning-pipeline/internal/config"
	"github.com/shpitdev/records-cleaning-pipeline/internal/metrics"
	"github.com/shpitdev/records-cleaning-pipeline/internal/pipeline"
	"github.com/shpitdev/records-cleaning-pipeline/internal/version"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/audit"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/dictionary"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/io/local"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/profile"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

const (
	DictionaryFile  = "data_dictionary.csv"
	ChangeLogFile   = "change_log.yaml"
	AuditReportFile = "audit_report.json"
)

// RunOptions configure one cleaning run.
type RunOptions struct {
	InputPath string
	// InputFormat overrides the configured and detected input format.
	InputFormat local.Format
	OutputDir   string
	Config      *config.Config

	// Describer fills dictionary descriptions the config leaves blank. Optional.
	Describer dictionary.Describer
	// Publisher receives the artifacts after they are written locally. Optional.
	Publisher core.OutputAdapter[[]core.Artifact]
	// MetricsFile is a Prometheus textfile path. Optional.
	MetricsFile string

	RunID  string
	Logger *slog.Logger
	Now    func() time.Time
}

// Summary is what a successful run reports back.
type Summary struct {
	RunID     string
	Report    *audit.Report
	Artifacts []string
}

type sampleSetter interface {
	SetSamples(map[string][]string)
}

// Run loads the input, cleans it and writes every artifact to OutputDir.
// Nothing is written when any stage fails.
func Run(ctx context.Context, opts RunOptions) (sum *Summary, err error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run", runID)
	runStart := now()

	var collector *metrics.Collector
	if opts.MetricsFile != "" {
		collector = metrics.New()
		defer func() {
			if err != nil {
				collector.Failed(now())
			}
			if werr := collector.WriteTextfile(opts.MetricsFile); werr != nil {
				logger.Warn("write metrics textfile", "path", opts.MetricsFile, "err", werr)
			}
		}()
	}

	cfg := opts.Config
	p, err := pipeline.New(cfg, pipeline.WithLogger(logger), pipeline.WithClock(now))
	if err != nil {
		return nil, err
	}

	logger.Info("run start", "input", opts.InputPath, "output_dir", opts.OutputDir, "version", version.Current)
	readStart := now()
	in, err := load(ctx, cfg, opts.InputPath, opts.InputFormat)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded input", "rows", in.Len(), "columns", in.Width(), "duration", now().Sub(readStart).Round(time.Millisecond))

	res, err := p.Run(ctx, in, audit.Meta{RunID: runID, Version: version.Current, StartedAt: runStart})
	if err != nil {
		return nil, err
	}
	if collector != nil {
		for _, s := range res.Stages {
			collector.Stage(s.Stage, s.Duration)
		}
		collector.Report(res.Report)
	}

	entries := dictionary.Build(res.Table, cfg.Schema, cfg.Annotations())
	if opts.Describer != nil {
		entries = describe(ctx, logger, opts.Describer, entries, res.Table, cfg.Dictionary.Samples)
	}

	artifacts, err := renderArtifacts(cfg, res.Table, res.Report, entries)
	if err != nil {
		return nil, err
	}

	writeStart := now()
	if err := (local.DirSink{Dir: opts.OutputDir}).Store(ctx, artifacts); err != nil {
		return nil, fmt.Errorf("write artifacts: %w", err)
	}
	names := make([]string, len(artifacts))
	for i, a := range artifacts {
		names[i] = a.Name
	}
	logger.Info("wrote artifacts", "dir", opts.OutputDir, "count", len(artifacts), "duration", now().Sub(writeStart).Round(time.Millisecond))

	if opts.Publisher != nil {
		pubStart := now()
		if err := opts.Publisher.Store(ctx, artifacts); err != nil {
			return nil, fmt.Errorf("publish artifacts: %w", err)
		}
		logger.Info("published artifacts", "count", len(artifacts), "duration", now().Sub(pubStart).Round(time.Millisecond))
	}

	logger.Info("run done",
		"rows_input", res.Report.RowsIn(),
		"rows_output", res.Report.RowsOut(),
		"violations_final", len(res.Report.Violations()),
		"duration", now().Sub(runStart).Round(time.Millisecond),
	)
	return &Summary{RunID: runID, Report: res.Report, Artifacts: names}, nil
}

// describe never fails the run; columns the describer could not handle keep
// blank descriptions.
func describe(ctx context.Context, logger *slog.Logger, d dictionary.Describer, entries []dictionary.Entry, t *table.Table, samples int) []dictionary.Entry {
	todo := dictionary.Incomplete(entries)
	if len(todo) == 0 {
		return entries
	}
	if s, ok := d.(sampleSetter); ok && samples > 0 {
		s.SetSamples(Samples(t, samples))
	}
	start := time.Now()
	described, err := d.Describe(ctx, todo)
	if err != nil {
		logger.Warn("describe columns", "err", err)
	}
	logger.Info("described columns", "requested", len(todo), "duration", time.Since(start).Round(time.Millisecond))
	return dictionary.Merge(entries, described)
}

// Samples returns up to n distinct non-missing values per column, in first
// seen order.
func Samples(t *table.Table, n int) map[string][]string {
	out := make(map[string][]string, t.Width())
	for _, name := range t.ColumnNames() {
		seen := map[string]struct{}{}
		var vals []string
		for _, v := range t.Column(name) {
			if v.IsMissing() {
				continue
			}
			s := v.String()
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			vals = append(vals, s)
			if len(vals) == n {
				break
			}
		}
		if len(vals) > 0 {
			out[name] = vals
		}
	}
	return out
}

func renderArtifacts(cfg *config.Config, t *table.Table, report *audit.Report, entries []dictionary.Entry) ([]core.Artifact, error) {
	formats, err := cfg.OutputFormats()
	if err != nil {
		return nil, err
	}
	var out []core.Artifact
	for _, f := range formats {
		data, err := local.Render(t, f)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", f, err)
		}
		out = append(out, core.Artifact{Name: cfg.Basename() + "." + f.Extension(), ContentType: f.ContentType(), Data: data})
	}

	dict, err := dictionary.RenderCSV(entries)
	if err != nil {
		return nil, err
	}
	out = append(out, core.Artifact{Name: DictionaryFile, ContentType: "text/csv", Data: dict})

	changes, err := yaml.Marshal(report.ChangeLog())
	if err != nil {
		return nil, fmt.Errorf("render change log: %w", err)
	}
	out = append(out, core.Artifact{Name: ChangeLogFile, ContentType: "application/yaml", Data: changes})

	rep, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render audit report: %w", err)
	}
	out = append(out, core.Artifact{Name: AuditReportFile, ContentType: "application/json", Data: append(rep, '\n')})
	return out, nil
}

func load(ctx context.Context, cfg *config.Config, path string, override local.Format) (*table.Table, error) {
	format := override
	if format == "" {
		f, err := cfg.InputFormat()
		if err != nil {
			return nil, err
		}
		format = f
	}
	if format == "" {
		f, err := local.DetectFormat(path)
		if err != nil {
			return nil, err
		}
		format = f
	}
	ro, err := cfg.ReadOptions()
	if err != nil {
		return nil, err
	}
	t, err := local.FileSource{Path: path, Format: format, Options: ro}.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return t, nil
}

// Validate loads the input and runs only the validator. A non-empty
// violation list comes with a *core.SchemaViolation error.
func Validate(ctx context.Context, cfg *config.Config, path string, format local.Format) ([]core.Violation, error) {
	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, err
	}
	t, err := load(ctx, cfg, path, format)
	if err != nil {
		return nil, err
	}
	return p.Validate(t)
}

// ProfileOptions configure a profile-only run. Config is optional.
type ProfileOptions struct {
	InputPath   string
	InputFormat local.Format
	Config      *config.Config
	Metrics     []profile.Metric
}

func Profile(ctx context.Context, opts ProfileOptions) (profile.Profile, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	t, err := load(ctx, cfg, opts.InputPath, opts.InputFormat)
	if err != nil {
		return profile.Profile{}, err
	}
	metrics := opts.Metrics
	if len(metrics) == 0 {
		if metrics, err = cfg.ProfileMetrics(); err != nil {
			return profile.Profile{}, err
		}
	}
	return profile.Compute(t, metrics), nil
}

// ChangeLogLines renders a change log as sorted "key: n" lines.
func ChangeLogLines(r *audit.Report) []string {
	log := r.ChangeLog()
	keys := log.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		n, _ := log.Get(k)
		out[i] = fmt.Sprintf("%s: %d", k, n)
	}
	return out
}

// IsConfigError reports whether err should exit with the usage/config code.
func IsConfigError(err error) bool {
	var ce *core.ConfigurationError
	return errors.As(err, &ce)
}
