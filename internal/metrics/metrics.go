// Package metrics exposes run counters as a Prometheus textfile, for node
// exporter style collection after batch runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/audit"
)

const namespace = "records_cleaner"

type Collector struct {
	registry *prometheus.Registry

	rows          *prometheus.GaugeVec
	changes       *prometheus.GaugeVec
	stageDuration *prometheus.GaugeVec
	violations    prometheus.Gauge
	lastRun       prometheus.Gauge
	runFailed     prometheus.Gauge
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows",
			Help:      "Rows read and written by the last run.",
		}, []string{"phase"}),
		changes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "change_log",
			Help:      "Change log counters of the last run.",
		}, []string{"key"}),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each stage in the last run.",
		}, []string{"stage"}),
		violations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "final_violations",
			Help:      "Schema violations left in the cleaned table.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		runFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_failed",
			Help:      "1 when the last run failed.",
		}),
	}
	c.registry.MustRegister(c.rows, c.changes, c.stageDuration, c.violations, c.lastRun, c.runFailed)
	return c
}

// Stage records the duration of one stage.
func (c *Collector) Stage(name string, d time.Duration) {
	c.stageDuration.WithLabelValues(name).Set(d.Seconds())
}

// Report records a finished run.
func (c *Collector) Report(r *audit.Report) {
	c.rows.WithLabelValues("input").Set(float64(r.RowsIn()))
	c.rows.WithLabelValues("output").Set(float64(r.RowsOut()))
	for k, v := range r.ChangeLog().Map() {
		c.changes.WithLabelValues(k).Set(float64(v))
	}
	c.violations.Set(float64(len(r.Violations())))
	c.lastRun.Set(float64(r.FinishedAt().Unix()))
	c.runFailed.Set(0)
}

// Failed marks the run as failed at t.
func (c *Collector) Failed(t time.Time) {
	c.runFailed.Set(1)
	c.lastRun.Set(float64(t.Unix()))
}

// WriteTextfile atomically writes the registry in text exposition format.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
