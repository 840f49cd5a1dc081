package prometheus

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slok/runbox/internal/metrics"
)

const prefix = "runbox"

// Config is the Prometheus recorder configuration.
type Config struct {
	Registry        prometheus.Registerer
	DurationBuckets []float64
}

func (c *Config) defaults() {
	if c.Registry == nil {
		c.Registry = prometheus.DefaultRegisterer
	}
	if len(c.DurationBuckets) == 0 {
		c.DurationBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300}
	}
}

type recorder struct {
	jobDuration      *prometheus.HistogramVec
	stagingDuration  *prometheus.HistogramVec
	stagedBytes      prometheus.Counter
	stagedFiles      prometheus.Counter
	inflightJobs     prometheus.Gauge
	cleanupFailures  *prometheus.CounterVec
	reapedResources  *prometheus.CounterVec
	admissionRejects *prometheus.CounterVec
}

// NewRecorder returns a new Prometheus metrics recorder registered on the config registry.
func NewRecorder(cfg Config) metrics.Recorder {
	cfg.defaults()

	r := &recorder{
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prefix,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "The duration of the execution jobs from acceptance to cleanup.",
			Buckets:   cfg.DurationBuckets,
		}, []string{"state", "error_kind"}),
		stagingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prefix,
			Subsystem: "staging",
			Name:      "duration_seconds",
			Help:      "The duration of the ref files staging.",
			Buckets:   cfg.DurationBuckets,
		}, []string{"success"}),
		stagedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "staging",
			Name:      "bytes_total",
			Help:      "The total bytes of staged ref files.",
		}),
		stagedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "staging",
			Name:      "files_total",
			Help:      "The total number of staged ref files.",
		}),
		inflightJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prefix,
			Subsystem: "job",
			Name:      "inflight",
			Help:      "The number of execution jobs being handled.",
		}),
		cleanupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "cleanup",
			Name:      "failures_total",
			Help:      "The total number of resources that could not be torn down.",
		}, []string{"resource"}),
		reapedResources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "reaper",
			Name:      "resources_total",
			Help:      "The total number of leaked resources removed by the reaper.",
		}, []string{"resource"}),
		admissionRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "http",
			Name:      "admission_rejections_total",
			Help:      "The total number of execution requests rejected by the admission control.",
		}, []string{"reason"}),
	}

	cfg.Registry.MustRegister(
		r.jobDuration,
		r.stagingDuration,
		r.stagedBytes,
		r.stagedFiles,
		r.inflightJobs,
		r.cleanupFailures,
		r.reapedResources,
		r.admissionRejects,
	)

	return r
}

func (r recorder) MeasureJobDuration(_ context.Context, state string, errKind string, duration time.Duration) {
	r.jobDuration.WithLabelValues(state, errKind).Observe(duration.Seconds())
}

func (r recorder) MeasureStagingDuration(_ context.Context, success bool, files int, bytes int64, duration time.Duration) {
	r.stagingDuration.WithLabelValues(strconv.FormatBool(success)).Observe(duration.Seconds())
	if success {
		r.stagedFiles.Add(float64(files))
		r.stagedBytes.Add(float64(bytes))
	}
}

func (r recorder) AddInflightJobs(_ context.Context, quantity int) {
	r.inflightJobs.Add(float64(quantity))
}

func (r recorder) IncCleanupFailures(_ context.Context, resource string) {
	r.cleanupFailures.WithLabelValues(resource).Inc()
}

func (r recorder) IncReapedResources(_ context.Context, resource string, quantity int) {
	r.reapedResources.WithLabelValues(resource).Add(float64(quantity))
}

func (r recorder) IncAdmissionRejections(_ context.Context, reason string) {
	r.admissionRejects.WithLabelValues(reason).Inc()
}
