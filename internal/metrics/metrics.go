// Package metrics exposes run counters on a dedicated Prometheus registry.
// The process is short-lived, so metrics are exported through the node
// exporter textfile collector instead of an HTTP endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every marketwise metric.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	ObservationsIngested = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwise_observations_ingested_total",
		Help: "Observations written to the store",
	}, []string{"platform"})

	ObservationsRejected = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwise_observations_rejected_total",
		Help: "Listings discarded before storage",
	}, []string{"platform", "reason"})

	FetchErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwise_fetch_errors_total",
		Help: "Failed platform fetches",
	}, []string{"platform"})

	Candidates = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwise_candidates_total",
		Help: "Candidate changes considered",
	}, []string{"window", "eligible"})

	Suppressions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwise_suppressions_total",
		Help: "Runs that ended without an announcement",
	}, []string{"reason"})

	Publications = factory.NewCounter(prometheus.CounterOpts{
		Name: "marketwise_publications_total",
		Help: "Announcements recorded in the publication log",
	})

	AnnounceErrors = factory.NewCounter(prometheus.CounterOpts{
		Name: "marketwise_announce_errors_total",
		Help: "Failed announcement attempts",
	})

	ObservationsRetired = factory.NewCounter(prometheus.CounterOpts{
		Name: "marketwise_observations_retired_total",
		Help: "Observations removed by the retention sweep",
	})

	StoredObservations = factory.NewGauge(prometheus.GaugeOpts{
		Name: "marketwise_stored_observations",
		Help: "Observations in the store after the last run",
	})

	BestSignificance = factory.NewGauge(prometheus.GaugeOpts{
		Name: "marketwise_best_significance",
		Help: "Significance of the best eligible change in the last run",
	})

	LastRunTimestamp = factory.NewGauge(prometheus.GaugeOpts{
		Name: "marketwise_last_run_timestamp_seconds",
		Help: "Unix time the last run finished",
	})

	RunDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketwise_run_duration_seconds",
		Help:    "Wall time of a full run",
		Buckets: prometheus.DefBuckets,
	})
)

// WriteTextfile writes the registry to path in the text exposition format.
// An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, Registry)
}
