package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the dispatcher. It satisfies
// toolregistry.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Dispatch metrics
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Settle metrics
	SecondaryFailuresTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_dispatch_total",
				Help: "Total number of tool dispatches by outcome",
			},
			[]string{"tool", "outcome"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_dispatch_duration_seconds",
				Help:    "Duration of tool dispatches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		SecondaryFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_secondary_failures_total",
				Help: "Credit deductions and audit records that failed after a dispatch",
			},
			[]string{"channel", "tool"},
		),
	}

	m.registry.MustRegister(m.DispatchTotal)
	m.registry.MustRegister(m.DispatchDuration)
	m.registry.MustRegister(m.SecondaryFailuresTotal)

	return m
}

// ObserveDispatch records one Execute call.
func (m *Metrics) ObserveDispatch(tool, outcome string, duration time.Duration) {
	m.DispatchTotal.WithLabelValues(tool, outcome).Inc()
	m.DispatchDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// IncSecondaryFailure counts a failed deduction or audit record.
func (m *Metrics) IncSecondaryFailure(channel, tool string) {
	m.SecondaryFailuresTotal.WithLabelValues(channel, tool).Inc()
}

// RegisterRateLimitEntries exposes the number of live rate-limit windows,
// read from fn at scrape time.
func (m *Metrics) RegisterRateLimitEntries(fn func() int) error {
	return m.registerCount("toolgate_ratelimit_entries", "Number of live (tool, caller) rate-limit windows", fn)
}

// RegisterGatewayClients exposes the number of connected WebSocket clients.
func (m *Metrics) RegisterGatewayClients(fn func() int) error {
	return m.registerCount("toolgate_gateway_clients", "Number of connected gateway WebSocket clients", fn)
}

func (m *Metrics) registerCount(name, help string, fn func() int) error {
	return m.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(fn()) },
	))
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
