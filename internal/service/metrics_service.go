package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campuskit/attendance-api/internal/models"
)

// MetricsService owns the Prometheus registry and the engine's domain
// counters.
type MetricsService struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	sessionsStarted *prometheus.CounterVec
	sessionsEnded   prometheus.Counter
	sweepDuration   prometheus.Histogram

	marks          *prometheus.CounterVec
	markRejections *prometheus.CounterVec
	fraudFlags     *prometheus.CounterVec
	summaryRetries prometheus.Counter
	queueDepth     prometheus.GaugeFunc
}

// NewMetricsService builds the registry with process and Go runtime
// collectors plus the domain metrics.
func NewMetricsService(queueDepth func() float64) *MetricsService {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &MetricsService{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attendance_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_sessions_started_total",
			Help: "Sessions started by proof method.",
		}, []string{"method"}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_sessions_ended_total",
			Help: "Sessions ended, explicit and TTL-expired.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendance_sweep_duration_seconds",
			Help:    "Duration of the session-end sweep batch.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_marks_total",
			Help: "Accepted marking attempts by proof method and resulting status.",
		}, []string{"method", "status"}),
		markRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_mark_rejections_total",
			Help: "Rejected marking attempts by error code.",
		}, []string{"code"}),
		fraudFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_fraud_flags_total",
			Help: "Fraud flags raised by heuristic type.",
		}, []string{"type"}),
		summaryRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_summary_cas_retries_total",
			Help: "Summary aggregate write retries due to version conflicts.",
		}),
	}

	registry.MustRegister(
		m.httpRequests, m.httpDuration,
		m.sessionsStarted, m.sessionsEnded, m.sweepDuration,
		m.marks, m.markRejections, m.fraudFlags, m.summaryRetries,
	)

	if queueDepth != nil {
		m.queueDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "attendance_events_queue_depth",
			Help: "Jobs waiting in the outbound events queue.",
		}, queueDepth)
		registry.MustRegister(m.queueDepth)
	}

	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one completed HTTP request.
func (m *MetricsService) ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SessionStartedObserved counts a started session.
func (m *MetricsService) SessionStartedObserved(method models.SessionMethod) {
	m.sessionsStarted.WithLabelValues(string(method)).Inc()
}

// SessionEndedObserved counts an ended session, explicit or expired.
func (m *MetricsService) SessionEndedObserved() {
	m.sessionsEnded.Inc()
}

// SweepObserved records the duration of one sweep batch.
func (m *MetricsService) SweepObserved(took time.Duration) {
	m.sweepDuration.Observe(took.Seconds())
}

// MarkObserved counts an accepted marking attempt.
func (m *MetricsService) MarkObserved(method models.SessionMethod, status models.AttendanceStatus) {
	m.marks.WithLabelValues(string(method), string(status)).Inc()
}

// MarkRejectedObserved counts a rejected marking attempt.
func (m *MetricsService) MarkRejectedObserved(code string) {
	m.markRejections.WithLabelValues(code).Inc()
}

// FraudFlagObserved counts a raised fraud flag.
func (m *MetricsService) FraudFlagObserved(flagType models.FraudFlagType) {
	m.fraudFlags.WithLabelValues(string(flagType)).Inc()
}

// SummaryRetryObserved counts one CAS retry.
func (m *MetricsService) SummaryRetryObserved() {
	m.summaryRetries.Inc()
}
