package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/port"
)

// Metrics holds Prometheus collectors for render jobs and the HTTP surface.
type Metrics struct {
	registry       *prometheus.Registry
	jobsSubmitted  *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	activeRenders  prometheus.Gauge
	queuedRenders  prometheus.Gauge
	renderDuration *prometheus.HistogramVec
	requestsTotal  prometheus.Counter
	errorsTotal    prometheus.Counter
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lapclock_jobs_submitted_total",
			Help: "Render jobs accepted, by render mode",
		}, []string{"mode"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lapclock_jobs_finished_total",
			Help: "Render jobs that reached a terminal state",
		}, []string{"status", "kind"}),
		activeRenders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lapclock_active_renders",
			Help: "Render jobs currently running",
		}),
		queuedRenders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lapclock_queued_renders",
			Help: "Render jobs waiting for a slot",
		}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lapclock_render_duration_seconds",
			Help:    "Wall time from a job starting to run until it finished",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}, []string{"mode"}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lapclock_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lapclock_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
	}

	registry.MustRegister(
		m.jobsSubmitted,
		m.jobsFinished,
		m.activeRenders,
		m.queuedRenders,
		m.renderDuration,
		m.requestsTotal,
		m.errorsTotal,
	)
	return m
}

func (m *Metrics) JobSubmitted(mode domain.RenderMode) {
	m.jobsSubmitted.WithLabelValues(string(mode)).Inc()
}

// JobFinished records a terminal job. elapsed is zero for jobs that never ran.
func (m *Metrics) JobFinished(mode domain.RenderMode, status domain.JobStatus, kind domain.ErrorKind, elapsed time.Duration) {
	label := string(kind)
	if label == "" {
		label = "none"
	}
	m.jobsFinished.WithLabelValues(string(status), label).Inc()
	if elapsed > 0 {
		m.renderDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	}
}

// SetQueueDepth reports the running and waiting job counts.
func (m *Metrics) SetQueueDepth(active, queued int) {
	m.activeRenders.Set(float64(active))
	m.queuedRenders.Set(float64(queued))
}

func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Nop discards every observation.
type Nop struct{}

func (Nop) JobSubmitted(domain.RenderMode) {}
func (Nop) JobFinished(domain.RenderMode, domain.JobStatus, domain.ErrorKind, time.Duration) {}
func (Nop) SetQueueDepth(int, int) {}

var (
	_ port.Metrics = (*Metrics)(nil)
	_ port.Metrics = Nop{}
)
