// Package metrics exposes sampler activity as Prometheus metrics.
//
// Metrics does not drive anything; it is fed by the observer callbacks of
// the pipeline, the retention sweeper, the scheduler and the store.
package metrics

import (
	"errors"
	"net/http"
	"path"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/yamnet/internal/pipeline"
	"github.com/roach88/yamnet/internal/retention"
	"github.com/roach88/yamnet/internal/schedule"
	"github.com/roach88/yamnet/internal/store"
)

const namespace = "yamnet"

// Metrics holds the sampler collectors.
type Metrics struct {
	registry *prometheus.Registry

	Cycles          *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	CaptureBytes    prometheus.Histogram
	CaptureTimeouts prometheus.Counter
	TopScore        prometheus.Histogram
	TopLabel        *prometheus.CounterVec
	ExportedFiles   prometheus.Counter

	RetentionSweeps  *prometheus.CounterVec
	RetentionDeleted prometheus.Counter
	RetentionCutoff  prometheus.Gauge

	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	StoreChanges *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Sampling cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a sampling cycle",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),
		CaptureBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_bytes",
			Help:      "PCM bytes captured per cycle",
			Buckets:   prometheus.ExponentialBuckets(4000, 2, 10), // 125ms to ~64s at 16kHz
		}),
		CaptureTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_timeouts_total",
			Help:      "Captures cut short by the hard deadline",
		}),
		TopScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "top_score",
			Help:      "Score of the highest ranked class per cycle",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		TopLabel: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "top_label_total",
			Help:      "Cycles by highest ranked class",
		}, []string{"label"}),
		ExportedFiles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_files_total",
			Help:      "Per-cycle WAV files written",
		}),

		RetentionSweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_sweeps_total",
			Help:      "Retention sweeps by result",
		}, []string{"result"}),
		RetentionDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Audio records deleted by retention",
		}),
		RetentionCutoff: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retention_cutoff_timestamp_seconds",
			Help:      "Cutoff of the last retention sweep",
		}),

		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and result",
		}, []string{"job", "result"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job run time",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"job"}),

		StoreChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_changes_total",
			Help:      "Committed store mutations by table and operation",
		}, []string{"table", "op"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCycle records a pipeline cycle report.
func (m *Metrics) ObserveCycle(r pipeline.CycleReport) {
	m.Cycles.WithLabelValues(string(r.Outcome)).Inc()
	if r.Outcome == pipeline.OutcomeSkipped {
		return
	}
	m.CycleDuration.Observe(r.Elapsed.Seconds())
	if r.Outcome == pipeline.OutcomeCaptureFailed {
		return
	}

	m.CaptureBytes.Observe(float64(r.AudioBytes))
	if r.TimedOut {
		m.CaptureTimeouts.Inc()
	}
	if len(r.Predictions) > 0 {
		top := r.Predictions[0]
		m.TopScore.Observe(float64(top.Score))
		m.TopLabel.WithLabelValues(top.Label).Inc()
	}
	if r.ExportPath != "" {
		m.ExportedFiles.Inc()
	}
}

// ObserveSweep records a retention sweep report.
func (m *Metrics) ObserveSweep(r retention.Report) {
	if r.Skipped {
		m.RetentionSweeps.WithLabelValues("skipped").Inc()
		return
	}
	m.RetentionSweeps.WithLabelValues("swept").Inc()
	m.RetentionDeleted.Add(float64(r.Deleted))
	m.RetentionCutoff.Set(float64(r.Cutoff.UnixMilli()) / 1000)
}

// ObserveJob records a scheduler run report.
func (m *Metrics) ObserveJob(r schedule.Report) {
	result := "ok"
	if r.Err != nil {
		result = "error"
	}
	m.JobRuns.WithLabelValues(r.Job, result).Inc()
	m.JobDuration.WithLabelValues(r.Job).Observe(r.Duration.Seconds())
}

// ObserveChange records a store change event.
func (m *Metrics) ObserveChange(ev store.ChangeEvent) {
	m.StoreChanges.WithLabelValues(path.Base(string(ev.Address)), string(ev.Op)).Add(float64(ev.Count))
}

// Serve runs srv with a /metrics route until srv is shut
// down. It returns nil after a clean shutdown.
func Serve(srv *http.Server, m *Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv.Handler = mux
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
