package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStorageObserveRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewStorage(reg, "sqlite")

	s.Observe("get", time.Now(), nil)
	s.Observe("get", time.Now(), errors.New("boom"))

	if got := testutil.ToFloat64(s.RoundTrips.WithLabelValues("get", "ok")); got != 1 {
		t.Fatalf("ok round trips = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.RoundTrips.WithLabelValues("get", "error")); got != 1 {
		t.Fatalf("error round trips = %v, want 1", got)
	}
}

func TestTreeCommitCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := NewTree(reg)

	tr.Commits.Inc()
	tr.CommitErrors.Inc()
	tr.CommitNodes.Observe(12)

	if got := testutil.ToFloat64(tr.Commits); got != 1 {
		t.Fatalf("commits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(tr.CommitErrors); got != 1 {
		t.Fatalf("commit errors = %v, want 1", got)
	}
}
