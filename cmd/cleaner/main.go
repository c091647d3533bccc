package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"

	"github.com/shpitdev/records-cleaning-pipeline/internal/app"
	"github.com/shpitdev/records-cleaning-pipeline/internal/config"
	"github.com/shpitdev/records-cleaning-pipeline/internal/describe/gemini"
	"github.com/shpitdev/records-cleaning-pipeline/internal/logging"
	"github.com/shpitdev/records-cleaning-pipeline/internal/version"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/io/local"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/io/objectstore"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/profile"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/redact"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "version", "--version":
		_, _ = fmt.Fprintln(os.Stdout, version.Current)
		return
	case "run":
		code = runClean(ctx, os.Args[2:])
	case "validate":
		code = runValidate(ctx, os.Args[2:])
	case "profile":
		code = runProfile(ctx, os.Args[2:])
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		code = 2
	}
	stop()
	os.Exit(code)
}

func runClean(ctx context.Context, args []string) int {
	workerOpts, err := loadWorkerOptionsFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	gemEnv := loadGeminiConfigFromEnv()

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	inputPath := fs.String("input", "", "Input table (csv, tsv or parquet)")
	inputFormat := fs.String("input-format", "", "Input format override: csv, tsv or parquet")
	outputDir := fs.String("output-dir", "", "Directory for the cleaned table and run artifacts")
	configPath := fs.String("config", "", "Run configuration YAML (schema and stage policies)")
	describe := fs.Bool("describe", false, "Fill blank data dictionary descriptions with Gemini")
	publishBucket := fs.String("publish-bucket", "", "Also upload artifacts to this object store bucket")
	publishPrefix := fs.String("publish-prefix", "", "Key prefix for uploaded artifacts (default: runs/<run id>)")
	metricsFile := fs.String("metrics-file", "", "Write a Prometheus textfile with run metrics")
	logLevel := fs.String("log-level", envString("LOG_LEVEL", "info"), "Log level (env: LOG_LEVEL)")
	logFormat := fs.String("log-format", envString("LOG_FORMAT", "text"), "Log format text|json (env: LOG_FORMAT)")
	fs.IntVar(&workerOpts.Workers, "workers", workerOpts.Workers, "Concurrent Gemini/upload workers (env: WORKERS)")
	fs.IntVar(&workerOpts.MaxRetries, "max-retries", workerOpts.MaxRetries, "Max retries for transient failures (env: MAX_RETRIES)")
	fs.DurationVar(&workerOpts.RequestTimeout, "request-timeout", workerOpts.RequestTimeout, "Per-request timeout (env: REQUEST_TIMEOUT)")
	fs.Float64Var(&workerOpts.RateLimitRPS, "rate-limit-rps", workerOpts.RateLimitRPS, "Global request rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	geminiModel := fs.String("gemini-model", gemEnv.Model, "Gemini model name (env: GEMINI_MODEL)")
	geminiBaseURL := fs.String("gemini-base-url", gemEnv.BaseURL, "Gemini API base URL override (env: GEMINI_BASE_URL)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *inputPath == "" || *outputDir == "" || *configPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "run requires --input, --output-dir and --config")
		return 2
	}

	logger := logging.Init(os.Stderr, *logFormat, *logLevel)

	format, err := local.ParseFormat(*inputFormat)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	opts := app.RunOptions{
		InputPath:   *inputPath,
		InputFormat: format,
		OutputDir:   *outputDir,
		Config:      cfg,
		MetricsFile: *metricsFile,
		Logger:      logger,
	}

	if *describe {
		d, err := gemini.New(ctx, gemini.Config{
			APIKey:  gemEnv.APIKey,
			Model:   *geminiModel,
			BaseURL: *geminiBaseURL,
		}, workerOpts)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "gemini config error: %s\n", redact.Secrets(err.Error()))
			return 2
		}
		opts.Describer = d
	}

	if *publishBucket != "" {
		osCfg, err := loadObjectStoreConfigFromEnv()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
			return 2
		}
		store, err := objectstore.NewS3Store(osCfg)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "object store config error: %s\n", redact.Secrets(err.Error()))
			return 2
		}
		pub := &objectstore.Publisher{Objects: store, Bucket: *publishBucket, Prefix: *publishPrefix, Worker: workerOpts, Logger: logger}
		opts.Publisher = pub
		if pub.Prefix == "" {
			opts.RunID = uuid.NewString()
			pub.Prefix = "runs/" + opts.RunID
		}
	}

	sum, err := app.Run(ctx, opts)
	if err != nil {
		if app.IsConfigError(err) {
			_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
			return 2
		}
		_, _ = fmt.Fprintf(os.Stderr, "run failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}

	_, _ = fmt.Fprintf(os.Stdout, "run %s: %d rows in, %d rows out\n", sum.RunID, sum.Report.RowsIn(), sum.Report.RowsOut())
	for _, line := range app.ChangeLogLines(sum.Report) {
		_, _ = fmt.Fprintln(os.Stdout, line)
	}
	return 0
}

func runValidate(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	inputPath := fs.String("input", "", "Input table (csv, tsv or parquet)")
	inputFormat := fs.String("input-format", "", "Input format override: csv, tsv or parquet")
	configPath := fs.String("config", "", "Run configuration YAML")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *inputPath == "" || *configPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "validate requires --input and --config")
		return 2
	}
	format, err := local.ParseFormat(*inputFormat)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	violations, err := app.Validate(ctx, cfg, *inputPath, format)
	var sv *core.SchemaViolation
	switch {
	case err == nil:
		_, _ = fmt.Fprintln(os.Stdout, "ok: no schema violations")
		return 0
	case errors.As(err, &sv):
		for _, v := range violations {
			_, _ = fmt.Fprintln(os.Stdout, v.String())
		}
		_, _ = fmt.Fprintf(os.Stderr, "%d schema violation(s)\n", len(violations))
		return 1
	case app.IsConfigError(err):
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	default:
		_, _ = fmt.Fprintf(os.Stderr, "validate failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
}

func runProfile(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	inputPath := fs.String("input", "", "Input table (csv, tsv or parquet)")
	inputFormat := fs.String("input-format", "", "Input format override: csv, tsv or parquet")
	configPath := fs.String("config", "", "Optional run configuration YAML (input options and metrics)")
	metrics := fs.String("metrics", "", "Comma-separated metrics (default: all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *inputPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "profile requires --input")
		return 2
	}
	format, err := local.ParseFormat(*inputFormat)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}

	opts := app.ProfileOptions{InputPath: *inputPath, InputFormat: format}
	if *configPath != "" {
		if opts.Config, err = config.Load(*configPath); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
			return 2
		}
	}
	if strings.TrimSpace(*metrics) != "" {
		if opts.Metrics, err = profile.ParseMetrics(strings.Split(*metrics, ",")); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
			return 2
		}
	}

	p, err := app.Profile(ctx, opts)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "profile failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "encode profile: %s\n", err)
		return 1
	}
	return 0
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `cleaner: health-records table cleaning pipeline

Usage:
  cleaner <command> [flags]

Commands:
  run       Clean a table and write the cleaned table, data dictionary, change log and audit report
  validate  Check a table against the configured schema (exit 1 on violations)
  profile   Print missingness and descriptive statistics as JSON
  version   Print the version

Examples:
  cleaner run --input visits.csv --output-dir out --config cleaning.yaml
  cleaner validate --input visits.parquet --config cleaning.yaml
  cleaner profile --input visits.csv --metrics missing,mean,median

Environment (logging):
  LOG_LEVEL   debug|info|warn|error (default info)
  LOG_FORMAT  text|json (default text)

Environment (workers, used by --describe and --publish-bucket):
  WORKERS, MAX_RETRIES, REQUEST_TIMEOUT, RATE_LIMIT_RPS

Environment (Gemini, --describe):
  GEMINI_API_KEY   Gemini API key (required)
  GEMINI_MODEL     Gemini model name (required)
  GEMINI_BASE_URL  Optional base URL override (proxies/testing)

Environment (object store, --publish-bucket):
  OBJECT_STORE_ENDPOINT, OBJECT_STORE_ACCESS_KEY, OBJECT_STORE_SECRET_KEY,
  OBJECT_STORE_REGION, OBJECT_STORE_USE_SSL

`)
}
