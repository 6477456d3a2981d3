// Package metrics holds the Prometheus collectors for upstream calls,
// dispatched operations and resilience state. Every method is safe on a
// nil *Collector, which disables recording.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so several instances can coexist in
// tests.
type Collector struct {
	registry *prometheus.Registry

	upstreamCalls    *prometheus.CounterVec
	upstreamAttempts *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	breakerState    *prometheus.GaugeVec
	connectionState *prometheus.GaugeVec
}

// New creates and registers all collectors under namespace.
func New(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "calls_total",
			Help:      "Logical upstream calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		upstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "attempts_total",
			Help:      "HTTP exchanges with the upstream, including retries.",
		}, []string{"endpoint"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "call_duration_seconds",
			Help:      "Logical upstream call latency including waits and retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Dispatched operations by name and outcome.",
		}, []string{"op", "outcome"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Dispatched operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "1 for the breaker's current state, 0 otherwise.",
		}, []string{"name", "state"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
	}

	c.registry.MustRegister(
		c.upstreamCalls,
		c.upstreamAttempts,
		c.upstreamDuration,
		c.operations,
		c.operationDuration,
		c.breakerState,
		c.connectionState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry for extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// UpstreamAttempt counts one HTTP exchange.
func (c *Collector) UpstreamAttempt(endpoint string) {
	if c == nil {
		return
	}
	c.upstreamAttempts.WithLabelValues(endpoint).Inc()
}

// UpstreamCall records a finished logical call.
func (c *Collector) UpstreamCall(endpoint, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.upstreamCalls.WithLabelValues(endpoint, outcome).Inc()
	c.upstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// Operation records a dispatched operation.
func (c *Collector) Operation(op, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(op, outcome).Inc()
	c.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// setState marks current as the active value of a one-hot gauge.
func setState(g *prometheus.GaugeVec, prefix []string, all []string, current string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		g.WithLabelValues(append(prefix, s)...).Set(v)
	}
}

// BreakerState publishes the breaker's state.
func (c *Collector) BreakerState(name string, all []string, current string) {
	if c == nil {
		return
	}
	setState(c.breakerState, []string{name}, all, current)
}

// ConnectionState publishes the connection state.
func (c *Collector) ConnectionState(all []string, current string) {
	if c == nil {
		return
	}
	setState(c.connectionState, nil, all, current)
}

// RateTokens exposes the limiter's available tokens as a gauge.
func (c *Collector) RateTokens(namespace string, fn func() float64) {
	if c == nil {
		return
	}
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rate_limit_tokens",
		Help:      "Tokens currently available in the upstream rate limiter.",
	}, fn))
}
