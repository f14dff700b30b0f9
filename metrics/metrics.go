// Package metrics holds the process-wide counters published in heartbeats.
package metrics

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Collector owns a private Prometheus registry so tests and multiple
// instances never collide on the default registry.
type Collector struct {
	registry *prometheus.Registry

	// Requests counts cache and sync requests by type.
	Requests *prometheus.CounterVec

	// ActiveSessions tracks the current number of active sessions.
	ActiveSessions prometheus.Gauge

	// CacheHits counts cache hits by tier.
	CacheHits *prometheus.CounterVec

	// CacheMisses counts lookups that missed every tier.
	CacheMisses prometheus.Counter

	// OutboxFlushed counts outbox records accepted by the transport.
	OutboxFlushed prometheus.Counter
}

// NewCollector creates a collector with all metrics registered.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_requests_total",
			Help: "Total number of requests",
		}, []string{"type"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "content_active_sessions",
			Help: "Number of active sessions",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_cache_hits_total",
			Help: "Cache hits by tier",
		}, []string{"tier"}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "content_cache_misses_total",
			Help: "Lookups that missed every cache tier",
		}),
		OutboxFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "content_outbox_flushed_total",
			Help: "Outbox records accepted by the transport",
		}),
	}

	registry.MustRegister(c.Requests, c.ActiveSessions, c.CacheHits, c.CacheMisses, c.OutboxFlushed)
	return c
}

// Expose renders the registry in the Prometheus text exposition format,
// which is what the heartbeat consumer on the server side parses.
func (c *Collector) Expose() (string, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
			return "", fmt.Errorf("encode metrics: %w", err)
		}
	}
	return buf.String(), nil
}
