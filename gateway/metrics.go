// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. Tenant labels use
// the numeric organization id to keep cardinality bounded.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	BlockedTotal     *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter
	CacheHitsTotal   prometheus.Counter
	CacheMissTotal   prometheus.Counter
	ReflectionsTotal prometheus.Counter
	InFlight         prometheus.Gauge
	Latency          *prometheus.HistogramVec
}

// NewMetrics registers the gateway collectors with the given registerer.
// A nil registerer uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qwed_gateway_requests_total",
			Help: "Verification requests by engine, verdict and tenant.",
		}, []string{"engine", "verdict", "tenant"}),
		BlockedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qwed_gateway_blocked_total",
			Help: "Requests blocked at admission, by layer.",
		}, []string{"layer"}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "qwed_gateway_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "qwed_gateway_cache_hits_total",
			Help: "Verification cache hits.",
		}),
		CacheMissTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "qwed_gateway_cache_misses_total",
			Help: "Verification cache misses.",
		}),
		ReflectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "qwed_gateway_reflections_total",
			Help: "Self-reflection retries issued to translators.",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "qwed_gateway_in_flight_requests",
			Help: "Requests currently in the pipeline.",
		}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qwed_gateway_request_duration_seconds",
			Help:    "End-to-end verification latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"engine"}),
	}
}
