// Package metrics holds the Prometheus collectors exported by the edge on
// /metrics. Collectors live on a private registry so tests can create as many
// edges as they like without duplicate registration panics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes recorded by [Metrics.Request].
const (
	OutcomePassthrough  = "passthrough"
	OutcomeProxied      = "proxied"
	OutcomeUpgraded     = "upgraded"
	OutcomeNotFound     = "not_found"
	OutcomeUnauthorized = "unauthorized"
	OutcomeUnavailable  = "unavailable"
	OutcomeEntryPoint   = "entry_point"
	OutcomeAsset        = "asset"
	OutcomeBlocked      = "blocked"
)

// Metrics is the set of edge collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	activeUpgrades   prometheus.Gauge
	loginAttempts    *prometheus.CounterVec
	directoryLookups *prometheus.CounterVec
	rateLimitSwept   prometheus.Counter
	filterMatches    *prometheus.CounterVec
}

// New registers the edge collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arca_edge_requests_total",
				Help: "Requests handled by the edge, by outcome",
			},
			[]string{"outcome"},
		),
		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arca_edge_upstream_duration_seconds",
				Help:    "Time to first response byte from customer backends",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		activeUpgrades: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "arca_edge_active_upgrades",
				Help: "Upgraded connections currently being spliced",
			},
		),
		loginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arca_edge_login_attempts_total",
				Help: "Login and verification attempts, by result",
			},
			[]string{"step", "result"},
		),
		directoryLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arca_edge_directory_lookups_total",
				Help: "Customer directory resolutions, by result",
			},
			[]string{"result"},
		),
		rateLimitSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "arca_edge_rate_limit_swept_total",
				Help: "Expired rate limit entries removed by the janitor",
			},
		),
		filterMatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arca_edge_filter_matches_total",
				Help: "Requests matched by the request filter, by rule and action",
			},
			[]string{"rule", "action"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Request(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveUpstream(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) UpgradeOpened() {
	if m == nil {
		return
	}
	m.activeUpgrades.Inc()
}

func (m *Metrics) UpgradeClosed() {
	if m == nil {
		return
	}
	m.activeUpgrades.Dec()
}

// LoginAttempt counts one login step ("login" or "verify") with its result.
func (m *Metrics) LoginAttempt(step, result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(step, result).Inc()
}

func (m *Metrics) DirectoryLookup(result string) {
	if m == nil {
		return
	}
	m.directoryLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RateLimitSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rateLimitSwept.Add(float64(n))
}

// FilterMatch counts a request filter hit. action is "block" or "audit".
func (m *Metrics) FilterMatch(rule, action string) {
	if m == nil {
		return
	}
	m.filterMatches.WithLabelValues(rule, action).Inc()
}
