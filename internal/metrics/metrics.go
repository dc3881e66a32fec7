// Package metrics tracks verification and serve-mode metrics and
// serves them in Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects cardwarden metrics on a custom prometheus.Registry
// for isolation and testability. It implements verify.StatsRecorder.
type Metrics struct {
	registry *prometheus.Registry

	verificationsTotal *prometheus.CounterVec
	signaturesTotal    *prometheus.CounterVec
	keyFetchTotal      *prometheus.CounterVec
	keyFetchDuration   prometheus.Histogram
	cacheLookups       *prometheus.CounterVec
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	buildInfo          *prometheus.GaugeVec
}

// New creates a Metrics collector with all metric families
// pre-registered with HELP and TYPE metadata.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		verificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardwarden_verifications_total",
			Help: "Total number of whole-card verification calls.",
		}, []string{"result"}),

		signaturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardwarden_signatures_total",
			Help: "Total number of individual signature entries verified.",
		}, []string{"result", "algorithm"}),

		keyFetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardwarden_key_fetch_total",
			Help: "Total number of JWKS network fetches by outcome.",
		}, []string{"outcome"}),

		keyFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cardwarden_key_fetch_duration_seconds",
			Help:    "JWKS fetch duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardwarden_key_cache_lookups_total",
			Help: "Total number of key-set cache lookups by result.",
		}, []string{"result"}),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardwarden_requests_total",
			Help: "Total number of HTTP requests served in serve mode.",
		}, []string{"path", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cardwarden_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),

		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cardwarden_build_info",
			Help: "Build information about the cardwarden binary. Value is always 1.",
		}, []string{"version", "go_version"}),
	}

	reg.MustRegister(
		m.verificationsTotal,
		m.signaturesTotal,
		m.keyFetchTotal,
		m.keyFetchDuration,
		m.cacheLookups,
		m.requestsTotal,
		m.requestDuration,
		m.buildInfo,
	)

	return m
}

// RecordVerification records the outcome of a whole-card verification.
func (m *Metrics) RecordVerification(valid bool) {
	m.verificationsTotal.WithLabelValues(resultString(valid)).Inc()
}

// RecordSignature records the outcome of one signature entry.
// Implements verify.StatsRecorder.
func (m *Metrics) RecordSignature(valid bool, algorithm string) {
	if algorithm == "" {
		algorithm = "unknown"
	}
	m.signaturesTotal.WithLabelValues(resultString(valid), algorithm).Inc()
}

// RecordKeyFetch records one JWKS network fetch.
// Implements verify.StatsRecorder.
func (m *Metrics) RecordKeyFetch(outcome string, duration time.Duration) {
	m.keyFetchTotal.WithLabelValues(outcome).Inc()
	m.keyFetchDuration.Observe(duration.Seconds())
}

// RecordCacheLookup records one key-set cache consultation.
// Implements verify.StatsRecorder.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordRequest records one serve-mode HTTP request.
func (m *Metrics) RecordRequest(path string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// SetBuildInfo sets the build information gauge. The gauge value is
// always 1; version and Go version are exposed as labels.
func (m *Metrics) SetBuildInfo(version, goVersion string) {
	m.buildInfo.WithLabelValues(version, goVersion).Set(1)
}

// Handler returns an HTTP handler that serves /metrics in Prometheus
// text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// resultString converts a validity flag to a metric label value.
func resultString(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}
