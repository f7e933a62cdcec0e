// Package metrics exposes the harvester's operational counters as real
// Prometheus collectors, replacing the teacher's hand-rolled text exposition
// (internal/observability/metrics.go) with github.com/prometheus/client_golang.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the Resilient Fetcher, Host Policy
// Registry, and Batch Processor publish to.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec // labels: host, status_class
	RetriesTotal    *prometheus.CounterVec // labels: host, reason
	RateLimitWaits  *prometheus.CounterVec // labels: host
	Deferrals       *prometheus.CounterVec // labels: host, reason
	CircuitOpens    *prometheus.CounterVec // labels: host
	CircuitCloses   *prometheus.CounterVec // labels: host
	Timeouts        *prometheus.CounterVec // labels: host
	ActiveRequests  prometheus.Gauge
	ResponseTimeSec *prometheus.HistogramVec // labels: host

	BatchItemsTotal *prometheus.CounterVec // labels: category
	JobsActive      prometheus.Gauge

	logger *slog.Logger
}

// New registers a fresh collector set against its own registry, following
// the teacher's pattern of a single constructed Metrics instance threaded
// through the call graph instead of relying on prometheus's global registry.
func New(logger *slog.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		logger:   logger.With("component", "metrics"),
	}

	factory := promauto.With(reg)

	m.RequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_requests_total",
		Help: "Total fetch attempts by destination host and response status class.",
	}, []string{"host", "status_class"})

	m.RetriesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_retries_total",
		Help: "Total fetch retries by destination host and reason.",
	}, []string{"host", "reason"})

	m.RateLimitWaits = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_rate_limit_waits_total",
		Help: "Total times a request waited on the per-host token bucket.",
	}, []string{"host"})

	m.Deferrals = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_deferrals_total",
		Help: "Total requests deferred (not attempted) due to breaker/limiter state.",
	}, []string{"host", "reason"})

	m.CircuitOpens = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_circuit_opens_total",
		Help: "Total circuit breaker transitions into the open state, by host.",
	}, []string{"host"})

	m.CircuitCloses = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_circuit_closes_total",
		Help: "Total circuit breaker transitions into the closed state, by host.",
	}, []string{"host"})

	m.Timeouts = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_timeouts_total",
		Help: "Total per-attempt deadline expirations, by host.",
	}, []string{"host"})

	m.ActiveRequests = factory.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_active_requests",
		Help: "Number of fetch attempts currently in flight.",
	})

	m.ResponseTimeSec = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_response_time_seconds",
		Help:    "Fetch round-trip latency by destination host.",
		Buckets: prometheus.DefBuckets,
	}, []string{"host"})

	m.BatchItemsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_batch_items_total",
		Help: "Total batch items processed, by terminal error category (or \"ok\").",
	}, []string{"category"})

	m.JobsActive = factory.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_jobs_active",
		Help: "Number of jobs currently in the running state.",
	})

	return m
}

// StatusClass buckets an HTTP status code into Prometheus's conventional
// "2xx"/"4xx" label shape.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// Serve starts the metrics HTTP endpoint and blocks until ctx is cancelled,
// mirroring the teacher's StartServer but returning control to the caller
// via context instead of a fire-and-forget goroutine with no shutdown path.
func (m *Metrics) Serve(ctx context.Context, port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		m.logger.Info("metrics server starting", "addr", srv.Addr, "path", path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
