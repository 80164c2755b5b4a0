// Package metrics declares the Prometheus collectors of the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheLookups counts resolver cache reads by result ("hit" or "miss").
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gqlforge",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Resolver cache lookups by result.",
	}, []string{"result"})

	// CacheWrites counts resolver cache writes by result ("stored",
	// "dropped" or "rejected").
	CacheWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gqlforge",
		Subsystem: "cache",
		Name:      "writes_total",
		Help:      "Resolver cache writes by result.",
	}, []string{"result"})

	// BatchSize observes the number of requests merged into one upstream call.
	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gqlforge",
		Subsystem: "dataloader",
		Name:      "batch_size",
		Help:      "Requests merged into a single upstream call.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	// UpstreamRequests counts upstream calls by kind and outcome.
	UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gqlforge",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Upstream calls by kind and outcome.",
	}, []string{"kind", "outcome"})

	// Operations counts executed GraphQL operations by outcome.
	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gqlforge",
		Subsystem: "graphql",
		Name:      "operations_total",
		Help:      "Executed operations by outcome.",
	}, []string{"outcome"})

	Registry = prometheus.NewRegistry()
)

func init() {
	Registry.MustRegister(CacheLookups, CacheWrites, BatchSize, UpstreamRequests, Operations)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Outcome maps an error to the "ok" / "error" label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
