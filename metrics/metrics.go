// Package metrics provides Prometheus metrics for the auth core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for auth operations.
type Metrics struct {
	enabled bool

	// Sign-in / sign-out metrics
	signInsTotal  *prometheus.CounterVec
	signOutsTotal prometheus.Counter

	// Refresh protocol metrics
	refreshesTotal  *prometheus.CounterVec
	refreshDuration prometheus.Histogram

	// Interception metrics
	unauthorizedTotal prometheus.Counter
	retriesTotal      prometheus.Counter

	// Account switching metrics
	accountSwitchesTotal *prometheus.CounterVec

	// Token cache metrics
	cachedTokens prometheus.Gauge
}

// Option configures the Metrics.
type Option func(*config)

type config struct {
	registerer prometheus.Registerer
}

// WithRegisterer sets the Prometheus registerer. Defaults to the global
// registry; tests pass a fresh one to avoid duplicate registration.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *config) { c.registerer = r }
}

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool, opts ...Option) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}

	cfg := &config{registerer: prometheus.DefaultRegisterer}
	for _, o := range opts {
		o(cfg)
	}
	factory := promauto.With(cfg.registerer)

	m.signInsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "erpauth_sign_ins_total",
		Help: "Total sign-in attempts",
	}, []string{"result"})

	m.signOutsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "erpauth_sign_outs_total",
		Help: "Total sign-outs",
	})

	m.refreshesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "erpauth_token_refreshes_total",
		Help: "Total token refresh calls",
	}, []string{"result"})

	m.refreshDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "erpauth_token_refresh_duration_seconds",
		Help:    "Token refresh duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	m.unauthorizedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "erpauth_unauthorized_responses_total",
		Help: "Total 401 responses intercepted",
	})

	m.retriesTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "erpauth_request_retries_total",
		Help: "Total requests retried after a successful refresh",
	})

	m.accountSwitchesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "erpauth_account_switches_total",
		Help: "Total account switches from history",
	}, []string{"result"})

	m.cachedTokens = factory.NewGauge(prometheus.GaugeOpts{
		Name: "erpauth_cached_tokens",
		Help: "Current number of cached per-user tokens",
	})

	return m
}

// RecordSignIn records a sign-in attempt outcome ("success" or "failure").
func (m *Metrics) RecordSignIn(result string) {
	if !m.enabled {
		return
	}
	m.signInsTotal.WithLabelValues(result).Inc()
}

// RecordSignOut records a sign-out.
func (m *Metrics) RecordSignOut() {
	if !m.enabled {
		return
	}
	m.signOutsTotal.Inc()
}

// RecordRefresh records a refresh call outcome and its duration.
func (m *Metrics) RecordRefresh(result string, durationSeconds float64) {
	if !m.enabled {
		return
	}
	m.refreshesTotal.WithLabelValues(result).Inc()
	m.refreshDuration.Observe(durationSeconds)
}

// RecordUnauthorized records an intercepted 401 response.
func (m *Metrics) RecordUnauthorized() {
	if !m.enabled {
		return
	}
	m.unauthorizedTotal.Inc()
}

// RecordRetry records a request retried after a successful refresh.
func (m *Metrics) RecordRetry() {
	if !m.enabled {
		return
	}
	m.retriesTotal.Inc()
}

// RecordAccountSwitch records an account switch outcome ("cached" when the
// switch used a cached token, "prompt" when a credential prompt was needed).
func (m *Metrics) RecordAccountSwitch(result string) {
	if !m.enabled {
		return
	}
	m.accountSwitchesTotal.WithLabelValues(result).Inc()
}

// SetCachedTokens sets the current number of cached per-user tokens.
func (m *Metrics) SetCachedTokens(n float64) {
	if !m.enabled {
		return
	}
	m.cachedTokens.Set(n)
}
