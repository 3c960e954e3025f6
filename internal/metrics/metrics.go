// Package metrics exposes authdnsd's runtime counters as Prometheus
// metrics without the cache, worker pool, or cookie manager importing
// Prometheus themselves: each exposes a plain Stats snapshot, and
// internal/server copies those snapshots into the cache, worker, and
// cookie collectors here every few seconds. QueriesTotal,
// ForwardLatency, ForwardFailures, and SignOperations are registered
// but not updated by any other package.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector authdnsd registers and the HTTP server
// exposing them at /metrics.
type Registry struct {
	reg *prometheus.Registry

	QueriesTotal     *prometheus.CounterVec
	ForwardLatency   prometheus.Histogram
	ForwardFailures  prometheus.Counter
	CacheHitRate     prometheus.Gauge
	CacheSize        prometheus.Gauge
	WorkerQueueDepth prometheus.Gauge
	WorkerUtilPct    prometheus.Gauge
	CookiesRejected  prometheus.Counter
	SignOperations   prometheus.Counter

	server *http.Server
}

// New creates a Registry with every collector registered, ready to serve.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authdnsd",
			Name:      "queries_total",
			Help:      "Total DNS queries processed, labeled by rcode.",
		}, []string{"rcode"}),
		ForwardLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "authdnsd",
			Name:      "forward_latency_seconds",
			Help:      "Latency of upstream forwarding attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
		ForwardFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authdnsd",
			Name:      "forward_failures_total",
			Help:      "Forwarding attempts that failed or timed out.",
		}),
		CacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "authdnsd",
			Name:      "cache_hit_rate",
			Help:      "Response cache hit rate over its lifetime.",
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "authdnsd",
			Name:      "cache_size",
			Help:      "Current number of entries in the response cache.",
		}),
		WorkerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "authdnsd",
			Name:      "worker_queue_depth",
			Help:      "Jobs currently queued for the worker pool.",
		}),
		WorkerUtilPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "authdnsd",
			Name:      "worker_utilization_percent",
			Help:      "Approximate percentage of the worker queue currently occupied.",
		}),
		CookiesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authdnsd",
			Name:      "cookies_rejected_total",
			Help:      "Queries rejected with BADCOOKIE.",
		}),
		SignOperations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "authdnsd",
			Name:      "dnssec_sign_operations_total",
			Help:      "RRSIG records produced by the signer.",
		}),
	}

	reg.MustRegister(
		r.QueriesTotal, r.ForwardLatency, r.ForwardFailures,
		r.CacheHitRate, r.CacheSize,
		r.WorkerQueueDepth, r.WorkerUtilPct,
		r.CookiesRejected, r.SignOperations,
	)

	return r
}

// Serve starts an HTTP server exposing /metrics at addr. It runs until
// Shutdown is called or the server errors, and is meant to be launched in
// its own goroutine.
func (r *Registry) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	r.server = &http.Server{Addr: addr, Handler: mux}
	return r.server.ListenAndServe()
}

// Shutdown gracefully stops the metrics HTTP server, if it was started.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
