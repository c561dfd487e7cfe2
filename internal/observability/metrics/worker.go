package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobsInFlight  prometheus.Gauge
	dispatchTotal *prometheus.CounterVec
	stuckTotal    prometheus.Counter
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Subsystem: "worker",
			Name:      "extraction_jobs_total",
			Help:      "Total processed extraction jobs by track and status.",
		},
		[]string{"service", "track", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docvault",
			Subsystem: "worker",
			Name:      "extraction_job_duration_seconds",
			Help:      "Extraction job duration in seconds by track and status.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "track", "status"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docvault",
			Subsystem: "worker",
			Name:      "extraction_jobs_in_flight",
			Help:      "Number of in-flight extraction jobs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	dispatchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Subsystem: "worker",
			Name:      "sweep_dispatch_total",
			Help:      "Total jobs dispatched by the pending sweep, by outcome.",
		},
		[]string{"service", "outcome"},
	)
	stuckTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Subsystem: "worker",
			Name:      "watchdog_stuck_tracks_total",
			Help:      "Total tracks failed by the processing watchdog.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(jobsTotal, jobDuration, jobsInFlight, dispatchTotal, stuckTotal)

	return &WorkerMetrics{
		registry:      registry,
		jobsTotal:     jobsTotal,
		jobDuration:   jobDuration,
		jobsInFlight:  jobsInFlight,
		dispatchTotal: dispatchTotal,
		stuckTotal:    stuckTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobsInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(service, track string, duration time.Duration, err error) {
	m.jobsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.jobsTotal.WithLabelValues(service, track, status).Inc()
	m.jobDuration.WithLabelValues(service, track, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) RecordSweepDispatch(service, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.dispatchTotal.WithLabelValues(service, outcome).Inc()
}

func (m *WorkerMetrics) RecordStuckTracks(count int64) {
	if count <= 0 {
		return
	}
	m.stuckTotal.Add(float64(count))
}
