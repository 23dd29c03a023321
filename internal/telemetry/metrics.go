package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "merge_branch_storage"

// Metrics counts Storage API traffic and item outcomes of one process. The
// registry is private so a run can be dumped as a node-exporter textfile.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	items           *prometheus.CounterVec
	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Storage API requests by method and HTTP status (0 for transport failures).",
			},
			[]string{"method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Storage API request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Replayed items by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Invocations by mode and result.",
			},
			[]string{"mode", "result"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Invocation duration by mode.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"mode"},
		),
	}
	m.registry.MustRegister(m.requests, m.requestDuration, m.items, m.runs, m.runDuration)
	return m
}

// ObserveRequest records one Storage API round trip.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ItemApplied counts an item the backend accepted.
func (m *Metrics) ItemApplied(action string) {
	m.items.WithLabelValues(action, "applied").Inc()
}

// ItemSkipped counts an item skipped as a state conflict.
func (m *Metrics) ItemSkipped(action string) {
	m.items.WithLabelValues(action, "skipped").Inc()
}

// RunFinished records the outcome of one invocation.
func (m *Metrics) RunFinished(mode string, err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.runs.WithLabelValues(mode, result).Inc()
	m.runDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// WriteTextfile atomically writes all metrics to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
