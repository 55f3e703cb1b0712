// Package observability records pipeline metrics on a private prometheus
// registry and exports them in the node-exporter textfile format.
package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"recordhistory/internal/history"
)

const namespace = "recordhistory"

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Recorder aggregates stage timings and per-run counters.
type Recorder struct {
	reg *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageTotal    *prometheus.CounterVec

	linesRead   prometheus.Counter
	sightings   prometheus.Counter
	malformed   prometheus.Counter
	conflicts   prometheus.Counter
	liveRecords prometheus.Gauge
	deadRecords prometheus.Gauge
	current     prometheus.Gauge
	redirects   prometheus.Gauge
	pruned      prometheus.Counter
	dropped     prometheus.Counter
	lastSuccess prometheus.Gauge
}

// NewRecorder constructs a recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		reg: reg,
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage", "status"}),
		stageTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_total",
			Help:      "Pipeline stages run by result",
		}, []string{"stage", "status"}),
		linesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "lines_total",
			Help:      "Snapshot lines read",
		}),
		sightings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "sightings_total",
			Help:      "Item sightings recorded",
		}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "malformed_lines_total",
			Help:      "Snapshot lines skipped because they could not be decoded",
		}),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "current",
			Name:      "conflicts_total",
			Help:      "Items current on more than one live record",
		}),
		liveRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "current",
			Name:      "live_records",
			Help:      "Live records as of the last computation",
		}),
		deadRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "current",
			Name:      "dead_records",
			Help:      "Dead records as of the last computation",
		}),
		current: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "current",
			Name:      "items",
			Help:      "Items with a live owner as of the last computation",
		}),
		redirects: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "redirects",
			Name:      "emitted",
			Help:      "Redirects emitted by the last derivation",
		}),
		pruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "entries_removed_total",
			Help:      "Dead entries removed",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "records_dropped_total",
			Help:      "Records dropped after pruning left them empty",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful stage",
		}),
	}
}

// Registry exposes the underlying registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// Observe records the duration and result of one stage.
func (r *Recorder) Observe(_ context.Context, stage string, success bool, duration time.Duration) {
	status := statusSuccess
	if !success {
		status = statusError
	}
	r.stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
	r.stageTotal.WithLabelValues(stage, status).Inc()
	if success {
		r.lastSuccess.SetToCurrentTime()
	}
}

// RecordIngest adds one snapshot's counters.
func (r *Recorder) RecordIngest(stats history.IngestStats) {
	r.linesRead.Add(float64(stats.Lines))
	r.sightings.Add(float64(stats.Sightings))
	r.malformed.Add(float64(stats.Malformed))
}

// RecordCurrent publishes the outcome of a current-set computation.
func (r *Recorder) RecordCurrent(stats history.CurrentStats) {
	r.conflicts.Add(float64(stats.Conflicts))
	r.liveRecords.Set(float64(stats.Live))
	r.deadRecords.Set(float64(stats.Dead))
	r.current.Set(float64(stats.CurrentItems))
}

// RecordPrune adds the counters of one prune pass.
func (r *Recorder) RecordPrune(stats history.PruneStats) {
	r.pruned.Add(float64(stats.EntriesRemoved))
	r.dropped.Add(float64(stats.RecordsDropped))
}

// RecordRedirects publishes the number of redirects derived.
func (r *Recorder) RecordRedirects(n int) {
	r.redirects.Set(float64(n))
}

// WriteTextfile writes every metric to path, atomically, in the textfile
// collector format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
