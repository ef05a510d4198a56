// Package metrics provides Prometheus instrumentation for contraverify.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu          sync.RWMutex
	enabled     bool
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Pipeline metrics
	statusCheckTotal *prometheus.CounterVec
	submissionTotal  *prometheus.CounterVec
	pollTotal        *prometheus.CounterVec
	outcomeTotal     *prometheus.CounterVec
	explorerDuration *prometheus.HistogramVec
	runDuration      prometheus.Histogram
)

// Init initializes the metrics system. Calling it again replaces the
// registry and resets every counter.
func Init(enabledFlag bool, svcName string) {
	mu.Lock()
	defer mu.Unlock()

	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		registry = nil
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	constLabels := prometheus.Labels{"service": svcName}

	httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: constLabels,
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"method", "path"},
	)

	statusCheckTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "verification_status_check_total",
			Help:        "Total number of already-verified checks against the explorer",
			ConstLabels: constLabels,
		},
		[]string{"network", "result"},
	)

	submissionTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "verification_submission_total",
			Help:        "Total number of source code submissions",
			ConstLabels: constLabels,
		},
		[]string{"network", "result"},
	)

	pollTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "verification_poll_total",
			Help:        "Total number of verification status polls",
			ConstLabels: constLabels,
		},
		[]string{"network", "result"},
	)

	outcomeTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "verification_outcome_total",
			Help:        "Final outcome per contract",
			ConstLabels: constLabels,
		},
		[]string{"network", "outcome"},
	)

	explorerDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "explorer_request_duration_seconds",
			Help:        "Explorer API latency in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	runDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:        "verification_run_duration_seconds",
			Help:        "Wall time of a verification run",
			Buckets:     []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			ConstLabels: constLabels,
		},
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	mu.RLock()
	defer mu.RUnlock()

	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	mu.RLock()
	defer mu.RUnlock()
	return serviceName
}
