package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alvmarrod/stream-weaver/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stream_weaver"

// Tracker holds and manages crawl metrics. Every counter is mirrored into a
// Prometheus registry owned by the tracker.
type Tracker struct {
	mu               sync.Mutex
	data             storage.Metrics
	totalFetchTimeMs int64
	fetchCount       int

	registry    *prometheus.Registry
	expanded    prometheus.Counter
	discovered  prometheus.Counter
	failed      prometheus.Counter
	edges       prometheus.Counter
	checkpoints prometheus.Counter
	fetchTime   prometheus.Histogram
}

// NewTracker creates a new metrics tracker for the run runID
func NewTracker(runID string) *Tracker {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Tracker{
		data: storage.Metrics{
			RunID:     runID,
			StartTime: time.Now(),
		},
		registry: reg,
		expanded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_expanded_total",
			Help:      "Entities whose follows were fetched",
		}),
		discovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_discovered_total",
			Help:      "Entities added to the frontier",
		}),
		failed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expansions_failed_total",
			Help:      "Expansions or lookups that failed and were skipped",
		}),
		edges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_fetched_total",
			Help:      "Follow edges fetched from upstream",
		}),
		checkpoints: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Corpus checkpoints written to the store",
		}),
		fetchTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of per-entity follow fetches",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
}

// Registry exposes the Prometheus registry, e.g. for promhttp
func (t *Tracker) Registry() *prometheus.Registry {
	return t.registry
}

// Record adds one set of progress deltas. Its signature matches the
// crawler's stats callback.
func (t *Tracker) Record(expanded, discovered, failed, edges, checkpoints int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.EntitiesExpanded += expanded
	t.data.EntitiesDiscovered += discovered
	t.data.ExpansionsFailed += failed
	t.data.EdgesFetched += edges
	t.data.Checkpoints += checkpoints

	t.expanded.Add(float64(expanded))
	t.discovered.Add(float64(discovered))
	t.failed.Add(float64(failed))
	t.edges.Add(float64(edges))
	t.checkpoints.Add(float64(checkpoints))
}

// RecordFetchTime records a follow fetch duration
func (t *Tracker) RecordFetchTime(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalFetchTimeMs += duration.Milliseconds()
	t.fetchCount++
	t.fetchTime.Observe(duration.Seconds())
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() storage.Metrics {
	snapshot := t.data
	snapshot.TotalFetchTimeMs = t.totalFetchTimeMs
	if t.fetchCount > 0 {
		snapshot.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}
	return snapshot
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason

	jsonData, err := json.MarshalIndent(t.snapshotLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress formats current metrics for periodic console updates
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Entities: %d discovered, %d expanded, %d failed | Edges: %d | Checkpoints: %d",
		t.data.EntitiesDiscovered,
		t.data.EntitiesExpanded,
		t.data.ExpansionsFailed,
		t.data.EdgesFetched,
		t.data.Checkpoints,
	)
}
