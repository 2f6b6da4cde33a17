// Package metrics exposes the proxy's Prometheus instrumentation.
//
// A single Collector owns every metric family and doubles as the event
// recorder for the cache and the rate limiter, so those packages stay
// free of Prometheus types.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stratos-hq/charon/pkg/config"
)

// Collector registers and records all proxy metrics. All record methods
// are no-ops when metrics are disabled, so call sites never branch on
// configuration.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	connectionsTotal   *prometheus.CounterVec
	connectionsActive  *prometheus.GaugeVec
	connectionsRefused prometheus.Counter
	connectionDuration *prometheus.HistogramVec
	bytesRelayed       *prometheus.CounterVec

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter

	rateLimitDenied  prometheus.Counter
	authFailures     prometheus.Counter
	upstreamFailures *prometheus.CounterVec
}

// NewCollector creates a collector registered against registry. A nil
// registry gets a fresh one.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "charon"
	}

	c := &Collector{
		enabled:  cfg.Enabled,
		registry: registry,

		connectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "proxy",
				Name:      "connections_total",
				Help:      "Connections handled, by mode and outcome",
			},
			[]string{"mode", "status"},
		),
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: "proxy",
				Name:      "connections_active",
				Help:      "Connections currently being served, by mode",
			},
			[]string{"mode"},
		),
		connectionsRefused: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "proxy",
				Name:      "connections_refused_total",
				Help:      "Connections refused because the accept queue was full",
			},
		),
		connectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "proxy",
				Name:      "connection_duration_seconds",
				Help:      "Connection lifetime from accept to close",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"mode"},
		),
		bytesRelayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "proxy",
				Name:      "relayed_bytes_total",
				Help:      "Bytes relayed, by mode and direction",
			},
			[]string{"mode", "direction"},
		),

		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Responses served from cache",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Lookups that missed the cache",
			},
		),
		cacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Entries evicted to stay under the size bound",
			},
		),

		rateLimitDenied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "limits",
				Name:      "rate_limit_denied_total",
				Help:      "Requests denied by the token bucket limiter",
			},
		),
		authFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "security",
				Name:      "auth_failures_total",
				Help:      "Failed authentication attempts",
			},
		),
		upstreamFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "routing",
				Name:      "upstream_failures_total",
				Help:      "Failed upstream connection attempts, by target group",
			},
			[]string{"group"},
		),
	}

	registry.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.connectionsRefused,
		c.connectionDuration,
		c.bytesRelayed,
		c.cacheHits,
		c.cacheMisses,
		c.cacheEvictions,
		c.rateLimitDenied,
		c.authFailures,
		c.upstreamFailures,
	)

	return c
}

// Registry returns the Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ConnOpened marks a connection entering service.
func (c *Collector) ConnOpened(mode string) {
	if !c.enabled {
		return
	}
	c.connectionsActive.WithLabelValues(mode).Inc()
}

// ConnClosed records a finished connection. status is the error code of
// the outcome, "ok" for a clean close.
func (c *Collector) ConnClosed(mode, status string, duration time.Duration, bytesIn, bytesOut int64) {
	if !c.enabled {
		return
	}
	c.connectionsActive.WithLabelValues(mode).Dec()
	c.connectionsTotal.WithLabelValues(mode, status).Inc()
	c.connectionDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if bytesIn > 0 {
		c.bytesRelayed.WithLabelValues(mode, "in").Add(float64(bytesIn))
	}
	if bytesOut > 0 {
		c.bytesRelayed.WithLabelValues(mode, "out").Add(float64(bytesOut))
	}
}

// ConnRefused records a connection dropped at the accept queue.
func (c *Collector) ConnRefused() {
	if !c.enabled {
		return
	}
	c.connectionsRefused.Inc()
}

// CacheHit implements the cache event recorder.
func (c *Collector) CacheHit() {
	if !c.enabled {
		return
	}
	c.cacheHits.Inc()
}

// CacheMiss implements the cache event recorder.
func (c *Collector) CacheMiss() {
	if !c.enabled {
		return
	}
	c.cacheMisses.Inc()
}

// CacheEviction implements the cache event recorder.
func (c *Collector) CacheEviction() {
	if !c.enabled {
		return
	}
	c.cacheEvictions.Inc()
}

// RateLimitDenied implements the rate limiter event recorder.
func (c *Collector) RateLimitDenied() {
	if !c.enabled {
		return
	}
	c.rateLimitDenied.Inc()
}

// AuthFailure records a failed credential attempt.
func (c *Collector) AuthFailure() {
	if !c.enabled {
		return
	}
	c.authFailures.Inc()
}

// UpstreamFailure records a failed dial to a target in group.
func (c *Collector) UpstreamFailure(group string) {
	if !c.enabled {
		return
	}
	c.upstreamFailures.WithLabelValues(group).Inc()
}
