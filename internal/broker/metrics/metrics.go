// Package metrics defines the broker's Prometheus collectors, following the
// same promauto-registered-CounterVec/HistogramVec shape as dittofs's
// pkg/metrics/prometheus backends, collapsed to one package since the
// broker has a single RPC surface rather than per-protocol metric sets.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_requests_total",
			Help: "Total number of Broker RPC requests by endpoint and response type",
		},
		[]string{"endpoint", "response_type"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_request_duration_seconds",
			Help:    "Duration of Broker RPC requests by endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	providerExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_provider_exchange_duration_seconds",
			Help:    "Duration of access-token provider exchanges by provider and outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "response_type"},
	)

	tokenCacheResult = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_token_cache_result_total",
			Help: "Token cache lookup outcomes by cache tier",
		},
		[]string{"tier", "result"}, // tier: local, remote, provider; result: hit, miss
	)
)

// responseType classifies an RPC outcome into a small, constant-cardinality
// label so per-error-message labels never leak into Prometheus.
func responseType(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// RecordRequest records one completed RPC call's outcome and latency.
func RecordRequest(endpoint string, duration time.Duration, err error) {
	rt := responseType(err)
	requestsTotal.WithLabelValues(endpoint, rt).Inc()
	requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordProviderExchange records one access-token provider round trip.
func RecordProviderExchange(provider string, duration time.Duration, err error) {
	providerExchangeDuration.WithLabelValues(provider, responseType(err)).Observe(duration.Seconds())
}

// RecordTokenCacheResult records a token-cache hit or miss at the given tier.
func RecordTokenCacheResult(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	tokenCacheResult.WithLabelValues(tier, result).Inc()
}

// Handler exposes the default Prometheus registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
