package graph

import (
	"fmt"
	"math"
	"sort"
)

const (
	// DefaultSimilarityThreshold is the minimum weight for a common-follow edge
	DefaultSimilarityThreshold = 0.05
	// DefaultOverlapSize is how many followed entities the overlap view keeps
	DefaultOverlapSize = 15
)

// WeightedEdge is one edge of a derived view
type WeightedEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// CommonFollowSimilarity restricts the graph to the entities focal follows and
// weights each of them by the share of that set it also follows, rounded to
// two decimals with halves going to even. Edges with a weight not above threshold are dropped.
func CommonFollowSimilarity(g *Graph, focal string, threshold float64) ([]WeightedEdge, error) {
	f, ok := g.index[focal]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, focal)
	}

	restricted := g.out[f]
	if len(restricted) == 0 {
		return []WeightedEdge{}, nil
	}

	inSet := make(map[int]bool, len(restricted))
	for _, x := range restricted {
		inSet[x] = true
	}

	edges := make([]WeightedEdge, 0, len(restricted))
	for _, x := range restricted {
		common := 0
		for _, y := range g.out[x] {
			if inSet[y] {
				common++
			}
		}
		w := math.RoundToEven(float64(common)/float64(len(restricted))*100) / 100
		if w > threshold {
			edges = append(edges, WeightedEdge{Source: focal, Target: g.entities[x].ID, Weight: w})
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Weight != edges[j].Weight {
			return edges[i].Weight > edges[j].Weight
		}
		return edges[i].Target < edges[j].Target
	})
	return edges, nil
}

// DirectFollowOverlap builds the who-follows-whom subgraph among the first k
// entities focal follows, including the focal edges themselves. The first k
// are taken in the order of focal's follow list, not in corpus order.
func DirectFollowOverlap(g *Graph, focal string, k int) ([]WeightedEdge, error) {
	f, ok := g.index[focal]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, focal)
	}

	top := g.out[f]
	if k >= 0 && k < len(top) {
		top = top[:k]
	}

	edges := make([]WeightedEdge, 0, len(top))
	for _, x := range top {
		edges = append(edges, WeightedEdge{Source: focal, Target: g.entities[x].ID, Weight: 1})
	}

	inTop := make(map[int]bool, len(top))
	for _, x := range top {
		inTop[x] = true
	}
	for _, x := range top {
		for _, y := range g.out[x] {
			if inTop[y] {
				edges = append(edges, WeightedEdge{Source: g.entities[x].ID, Target: g.entities[y].ID, Weight: 1})
			}
		}
	}

	return edges, nil
}
