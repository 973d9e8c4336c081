package graph

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"
)

// PageRank configuration constants.
const (
	// DefaultDampingFactor is the probability of following a link (vs random jump).
	DefaultDampingFactor = 0.85

	// DefaultMaxIterations is the maximum iterations before stopping.
	DefaultMaxIterations = 100

	// DefaultTolerance is the per-node error tolerance. Iteration stops when
	// the L1 change of the score vector drops below n * tolerance.
	DefaultTolerance = 1e-6
)

// PageRankOptions configures the PageRank algorithm.
type PageRankOptions struct {
	// DampingFactor must be in [0, 1]. Default: 0.85
	DampingFactor float64

	// MaxIterations must be > 0. Default: 100
	MaxIterations int

	// Tolerance must be > 0. Default: 1e-6
	Tolerance float64
}

// Validate checks options and applies defaults for invalid values.
func (o *PageRankOptions) Validate() {
	if o.DampingFactor < 0 || o.DampingFactor > 1 {
		o.DampingFactor = DefaultDampingFactor
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
}

// DefaultPageRankOptions returns the standard parameters.
func DefaultPageRankOptions() *PageRankOptions {
	return &PageRankOptions{
		DampingFactor: DefaultDampingFactor,
		MaxIterations: DefaultMaxIterations,
		Tolerance:     DefaultTolerance,
	}
}

// PageRankResult contains the output of PageRank computation.
type PageRankResult struct {
	// Scores is indexed by node position and sums to approximately 1.0.
	Scores []float64

	// Iterations is the actual number of iterations performed.
	Iterations int

	// Converged indicates whether the tolerance was met before MaxIterations.
	Converged bool
}

// PageRank computes scores by power iteration. The rank held by nodes
// without outgoing edges is spread evenly over all nodes on every step.
func PageRank(ctx context.Context, g *Graph, opts *PageRankOptions) (*PageRankResult, error) {
	n := g.NodeCount()
	if n == 0 {
		return &PageRankResult{Scores: []float64{}, Converged: true}, nil
	}

	if opts == nil {
		opts = DefaultPageRankOptions()
	} else {
		opts.Validate()
	}

	N := float64(n)
	d := opts.DampingFactor

	scores := make([]float64, n)
	next := make([]float64, n)
	for i := range scores {
		scores[i] = 1 / N
	}

	var sinks []int
	for i := range g.out {
		if len(g.out[i]) == 0 {
			sinks = append(sinks, i)
		}
	}

	result := &PageRankResult{}
	for iter := 0; iter < opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sinkMass := 0.0
		for _, s := range sinks {
			sinkMass += scores[s]
		}
		base := (1-d)/N + d*sinkMass/N

		for i := range next {
			next[i] = base
		}
		for i, targets := range g.out {
			if len(targets) == 0 {
				continue
			}
			share := d * scores[i] / float64(len(targets))
			for _, j := range targets {
				next[j] += share
			}
		}

		diff := 0.0
		for i := range next {
			diff += math.Abs(next[i] - scores[i])
		}

		scores, next = next, scores
		result.Iterations = iter + 1

		if diff < N*opts.Tolerance {
			result.Converged = true
			break
		}
	}

	if !result.Converged {
		logrus.Warnf("PageRank did not converge after %d iterations", result.Iterations)
	}

	result.Scores = scores
	return result, nil
}
