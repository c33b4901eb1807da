// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Response size buckets, 256B to 16MB.
var sizeBuckets = prometheus.ExponentialBuckets(256, 4, 9)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	ResponseSize     *prometheus.HistogramVec

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	MetadataDuration prometheus.Histogram
	MetadataResults  *prometheus.CounterVec

	Rewrites            *prometheus.CounterVec
	PlaceholdersMissing *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "og_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "og_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "og_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		ResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "og_proxy_http_response_size_bytes",
			Help:    "Size of responses written to clients.",
			Buckets: sizeBuckets,
		}, []string{"path_prefix"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "og_proxy_upstream_request_duration_seconds",
			Help:    "Origin call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "og_proxy_upstream_responses_total",
			Help: "Total origin responses by method and status code.",
		}, []string{"method", "status_code"}),

		MetadataDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "og_proxy_metadata_request_duration_seconds",
			Help:    "Metadata service call latency in seconds.",
			Buckets: defaultBuckets,
		}),

		MetadataResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "og_proxy_metadata_results_total",
			Help: "Metadata lookups by result.",
		}, []string{"result"}),

		Rewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "og_proxy_rewrites_total",
			Help: "Intercepted origin responses by outcome.",
		}, []string{"outcome"}),

		PlaceholdersMissing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "og_proxy_placeholders_missing_total",
			Help: "Open Graph placeholders absent from origin HTML, by tag.",
		}, []string{"tag"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.ResponseSize,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.MetadataDuration,
		m.MetadataResults,
		m.Rewrites,
		m.PlaceholdersMissing,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the proxy's own routes. Everything else is origin traffic.
var knownPrefixes = []string{"/_proxy/healthz", "/_proxy/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
// Proxied origin paths collapse into the single label "proxy".
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "proxy"
}
