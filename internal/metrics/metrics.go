// Package metrics holds the Prometheus instruments used across stallcode.
// All collectors are registered with the default registry in init, so
// serving promhttp.Handler() on /metrics is enough to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeOK          = "ok"
	OutcomeDuplicate   = "duplicate"
	OutcomeInvalid     = "invalid"
	OutcomeSelfVote    = "self_vote"
	OutcomeNoop        = "noop"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeStale       = "stale"
)

var (
	NearbyQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stallcode_nearby_queries_total",
			Help: "Nearby code queries by outcome.",
		}, []string{"outcome"})

	NearbyResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stallcode_nearby_results",
			Help:    "Number of codes returned per nearby query.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 250},
		})

	CodesAdded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stallcode_codes_added_total",
			Help: "Code submissions by outcome.",
		}, []string{"outcome"})

	Votes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stallcode_votes_total",
			Help: "Votes cast by outcome.",
		}, []string{"outcome"})

	DuplicateGuardFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stallcode_duplicate_guard_failures_total",
			Help: "Duplicate checks that could not reach the store.",
		})

	LocationFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stallcode_location_fallbacks_total",
			Help: "Requests served from the fixed fallback location, by reason.",
		}, []string{"reason"})

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stallcode_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stallcode_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})
)

func init() {
	prometheus.MustRegister(
		NearbyQueries,
		NearbyResults,
		CodesAdded,
		Votes,
		DuplicateGuardFailures,
		LocationFallbacks,
		HTTPRequests,
		HTTPDuration,
	)
}
