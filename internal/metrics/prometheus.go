package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"braveforms/internal/types"
)

const promNamespace = "braveforms"

// Prometheus holds the collectors for the long-running API process.
type Prometheus struct {
	registry *prometheus.Registry

	Checks          *prometheus.CounterVec // labels: source, confidence, exceeded
	SourceFailures  *prometheus.CounterVec // labels: source, state
	StatusUnknown   prometheus.Counter
	MonitorProjects *prometheus.CounterVec // labels: outcome={checked,exceeded,failed}
	MonitorDuration prometheus.Histogram
	Requests        *prometheus.CounterVec   // labels: method, endpoint, status
	RequestDuration *prometheus.HistogramVec // labels: method, endpoint
}

// NewPrometheus creates the collectors and registers them on a dedicated
// registry together with the Go runtime and process collectors.
func NewPrometheus() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		Checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "compliance_checks_total",
			Help:      "Completed precipitation checks by source, confidence and outcome.",
		}, []string{"source", "confidence", "exceeded"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "precipitation_source_failures_total",
			Help:      "Precipitation source calls that did not produce a value.",
		}, []string{"source", "state"}),
		StatusUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "compliance_status_unknown_total",
			Help:      "Checks that ended with no source and no cached reading.",
		}),
		MonitorProjects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "monitor_projects_total",
			Help:      "Projects processed by the scheduled monitor by outcome.",
		}, []string{"outcome"}),
		MonitorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: promNamespace,
			Name:      "monitor_pass_duration_seconds",
			Help:      "Duration of a complete monitor pass.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "http_requests_total",
			Help:      "API requests by method, route and status.",
		}, []string{"method", "endpoint", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: promNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30},
		}, []string{"method", "endpoint"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Checks,
		m.SourceFailures,
		m.StatusUnknown,
		m.MonitorProjects,
		m.MonitorDuration,
		m.Requests,
		m.RequestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Prometheus) RecordCheck(_ context.Context, source types.WeatherSource, confidence types.Confidence, exceeded bool) {
	m.Checks.WithLabelValues(string(source), string(confidence), strconv.FormatBool(exceeded)).Inc()
}

func (m *Prometheus) RecordSourceFailure(_ context.Context, source types.WeatherSource, state types.SourceState) {
	m.SourceFailures.WithLabelValues(string(source), state.String()).Inc()
}

func (m *Prometheus) RecordStatusUnknown(context.Context) {
	m.StatusUnknown.Inc()
}

func (m *Prometheus) RecordMonitorPass(_ context.Context, checked, exceeded, failed int, duration time.Duration) {
	m.MonitorProjects.WithLabelValues("checked").Add(float64(checked))
	m.MonitorProjects.WithLabelValues("exceeded").Add(float64(exceeded))
	m.MonitorProjects.WithLabelValues("failed").Add(float64(failed))
	m.MonitorDuration.Observe(duration.Seconds())
}

func (m *Prometheus) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.Requests.WithLabelValues(method, endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
