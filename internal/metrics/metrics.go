// Package metrics defines the prometheus collectors the tree engine
// and its storage adapters report through, and a handler for serving
// them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Storage groups the counters and histograms a patricia.Storage
// adapter reports. Each backend (sqlitestore, dynamostore) takes one
// of these and records around its Get/Put/Release/PutBatch calls
// through Observe. CacheHits and CacheMiss are registered, but nothing
// in this module increments them.
type Storage struct {
	RoundTrips *prometheus.CounterVec
	Latency    *prometheus.HistogramVec
	CacheHits  prometheus.Counter
	CacheMiss  prometheus.Counter
}

// NewStorage registers a Storage metric set labeled with backend
// (e.g. "sqlite", "dynamodb") against reg.
func NewStorage(reg prometheus.Registerer, backend string) *Storage {
	f := promauto.With(reg)
	return &Storage{
		RoundTrips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "strie",
			Subsystem:   "storage",
			Name:        "round_trips_total",
			Help:        "Number of Storage operations, by backend and operation.",
			ConstLabels: prometheus.Labels{"backend": backend},
		}, []string{"op", "outcome"}),
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "strie",
			Subsystem:   "storage",
			Name:        "operation_duration_seconds",
			Help:        "Latency of Storage operations, by backend and operation.",
			ConstLabels: prometheus.Labels{"backend": backend},
			Buckets:     prometheus.DefBuckets,
		}, []string{"op"}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "strie",
			Subsystem:   "storage",
			Name:        "node_cache_hits_total",
			Help:        "Tree read-cache hits, avoiding a Storage.Get round trip.",
			ConstLabels: prometheus.Labels{"backend": backend},
		}),
		CacheMiss: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "strie",
			Subsystem:   "storage",
			Name:        "node_cache_misses_total",
			Help:        "Tree read-cache misses that fell through to Storage.Get.",
			ConstLabels: prometheus.Labels{"backend": backend},
		}),
	}
}

// Observe records the outcome and duration of a single Storage
// operation (one of "get", "put", "release", "put_batch").
func (s *Storage) Observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.RoundTrips.WithLabelValues(op, outcome).Inc()
	s.Latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Tree groups the counters reporting on the tree engine itself,
// independent of which Storage backs it.
type Tree struct {
	Commits      prometheus.Counter
	CommitNodes  prometheus.Histogram
	CommitErrors prometheus.Counter
}

// NewTree registers a Tree metric set against reg.
func NewTree(reg prometheus.Registerer) *Tree {
	f := promauto.With(reg)
	return &Tree{
		Commits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "strie",
			Subsystem: "tree",
			Name:      "commits_total",
			Help:      "Number of Tree.Commit calls that returned successfully.",
		}),
		CommitNodes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "strie",
			Subsystem: "tree",
			Name:      "commit_nodes",
			Help:      "Number of dirty nodes persisted per Tree.Commit call.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		CommitErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "strie",
			Subsystem: "tree",
			Name:      "commit_errors_total",
			Help:      "Number of Tree.Commit calls that returned an error.",
		}),
	}
}

// Handler returns an http.Handler serving reg's collectors in the
// Prometheus text exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
