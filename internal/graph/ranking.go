package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/alvmarrod/stream-weaver/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Metric names, as persisted and accepted on the command line
const (
	MetricInDegree    = "indegree"
	MetricOutDegree   = "outdegree"
	MetricCloseness   = "closeness"
	MetricBetweenness = "betweenness"
	MetricPageRank    = "pagerank"
	MetricCoreNumber  = "core_number"
)

// Metrics lists every supported metric
var Metrics = []string{
	MetricInDegree,
	MetricOutDegree,
	MetricCloseness,
	MetricBetweenness,
	MetricPageRank,
	MetricCoreNumber,
}

// ErrUnknownMetric is returned for a metric name not in Metrics
var ErrUnknownMetric = errors.New("unknown metric")

// Ranking is an ordered list of scores for one metric
type Ranking struct {
	Metric string
	Scores []storage.MetricScore

	index map[string]int
}

// NewRanking wraps scores that are already in ranking order
func NewRanking(metric string, scores []storage.MetricScore) *Ranking {
	r := &Ranking{
		Metric: metric,
		Scores: scores,
		index:  make(map[string]int, len(scores)),
	}
	for i, s := range scores {
		if _, ok := r.index[s.EntityID]; !ok {
			r.index[s.EntityID] = i
		}
	}
	return r
}

// Top returns the first n scores, or all of them when n <= 0
func (r *Ranking) Top(n int) []storage.MetricScore {
	if n <= 0 || n > len(r.Scores) {
		n = len(r.Scores)
	}
	out := make([]storage.MetricScore, n)
	copy(out, r.Scores[:n])
	return out
}

// Position returns the 1-based rank of id, or 0 if it is not ranked
func (r *Ranking) Position(id string) int {
	i, ok := r.index[id]
	if !ok {
		return 0
	}
	return i + 1
}

// Score returns the score of id
func (r *Ranking) Score(id string) (float64, bool) {
	i, ok := r.index[id]
	if !ok {
		return 0, false
	}
	return r.Scores[i].Score, true
}

// Compute runs one metric over g. Core numbers keep node order; every other
// metric is sorted by descending score with ties broken by identifier.
func Compute(ctx context.Context, g *Graph, metric string) (*Ranking, error) {
	var (
		values []float64
		err    error
	)

	switch metric {
	case MetricInDegree:
		values = InDegree(g)
	case MetricOutDegree:
		values = OutDegree(g)
	case MetricCloseness:
		values, err = Closeness(ctx, g)
	case MetricBetweenness:
		values, err = Betweenness(ctx, g)
	case MetricPageRank:
		var res *PageRankResult
		res, err = PageRank(ctx, g, DefaultPageRankOptions())
		if err == nil {
			values = res.Scores
		}
	case MetricCoreNumber:
		cores := CoreNumber(g)
		scores := make([]storage.MetricScore, len(cores))
		for i, c := range cores {
			scores[i] = storage.MetricScore{EntityID: g.entities[i].ID, Score: float64(c)}
		}
		return NewRanking(metric, scores), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	if err != nil {
		return nil, err
	}

	scores := make([]storage.MetricScore, len(values))
	for i, v := range values {
		scores[i] = storage.MetricScore{EntityID: g.entities[i].ID, Score: v}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].EntityID < scores[j].EntityID
	})

	return NewRanking(metric, scores), nil
}

// ComputeAll runs every metric concurrently. The graph is read-only so the
// computations share it.
func ComputeAll(ctx context.Context, g *Graph) (map[string]*Ranking, error) {
	rankings := make([]*Ranking, len(Metrics))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, metric := range Metrics {
		eg.Go(func() error {
			r, err := Compute(egCtx, g, metric)
			if err != nil {
				return fmt.Errorf("%s: %w", metric, err)
			}
			logrus.Debugf("Computed %s over %d nodes", metric, g.NodeCount())
			rankings[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*Ranking, len(rankings))
	for _, r := range rankings {
		out[r.Metric] = r
	}
	return out, nil
}
