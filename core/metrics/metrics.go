// Package metrics holds the Prometheus collectors of the acquisition pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "castshelf"

var (
	// Registry holds the pipeline collectors plus the Go and process collectors.
	Registry = prometheus.NewRegistry()

	IngestionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingestions_total",
		Help:      "Finished ingestions by source kind and outcome code.",
	}, []string{"source", "outcome"})

	FetchFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_failures_total",
		Help:      "Failed fetches by error kind.",
	}, []string{"kind"})

	OrphansReclaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphans_reclaimed_total",
		Help:      "Artifacts deleted because no library entry referenced them.",
	})

	DuplicatesExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicates_expired_total",
		Help:      "Duplicate library entries removed after the grace window.",
	})

	FetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Time spent fetching a source.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"source"})
)

func init() {
	Registry.MustRegister(
		IngestionsTotal,
		FetchFailuresTotal,
		OrphansReclaimedTotal,
		DuplicatesExpiredTotal,
		FetchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveFetch records how long a fetch of source took.
func ObserveFetch(source string, start time.Time) {
	FetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
