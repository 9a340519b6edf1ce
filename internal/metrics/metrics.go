// Package metrics holds the engine's Prometheus instruments. A Set carries
// its own registry so tests never collide and the worker can serve exactly
// the engine's metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set is the full instrument collection. Construct one per process with
// NewSet and share it; all instruments are safe for concurrent use.
type Set struct {
	registry *prometheus.Registry

	SnapshotBuilds       *prometheus.CounterVec
	SnapshotBuildSeconds *prometheus.HistogramVec
	StandingsQueries     *prometheus.CounterVec
	StandingsQuerySecs   prometheus.Histogram
	CacheHits            prometheus.Counter
	CacheMisses          prometheus.Counter
	DocsImported         *prometheus.CounterVec
	TasksProcessed       *prometheus.CounterVec
}

// NewSet builds and registers every instrument on a fresh registry.
func NewSet() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		registry: reg,
		SnapshotBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewind_snapshot_builds_total",
			Help: "Snapshot build attempts by kind and outcome.",
		}, []string{"kind", "status"}),
		SnapshotBuildSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rewind_snapshot_build_seconds",
			Help:    "Snapshot build latency by kind.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"kind"}),
		StandingsQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewind_standings_queries_total",
			Help: "Standings queries by outcome.",
		}, []string{"status"}),
		StandingsQuerySecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rewind_standings_query_seconds",
			Help:    "Standings query latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewind_standings_cache_hits_total",
			Help: "Standings pages served from the cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewind_standings_cache_misses_total",
			Help: "Standings pages computed after a cache miss.",
		}),
		DocsImported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewind_docs_imported_total",
			Help: "Documents written by the importer, by collection.",
		}, []string{"collection"}),
		TasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewind_tasks_processed_total",
			Help: "Background tasks handled by the worker, by type and outcome.",
		}, []string{"type", "status"}),
	}
	reg.MustRegister(
		s.SnapshotBuilds, s.SnapshotBuildSeconds,
		s.StandingsQueries, s.StandingsQuerySecs,
		s.CacheHits, s.CacheMisses,
		s.DocsImported, s.TasksProcessed,
	)
	return s
}

// Registry exposes the set's registry for an HTTP scrape handler.
func (s *Set) Registry() *prometheus.Registry { return s.registry }
