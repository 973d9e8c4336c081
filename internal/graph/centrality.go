package graph

import (
	"context"

	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
)

// InDegree returns the in-degree of every node divided by n-1
func InDegree(g *Graph) []float64 {
	return degreeCentrality(g, g.in)
}

// OutDegree returns the out-degree of every node divided by n-1
func OutDegree(g *Graph) []float64 {
	return degreeCentrality(g, g.out)
}

func degreeCentrality(g *Graph, adj [][]int) []float64 {
	n := g.NodeCount()
	scores := make([]float64, n)
	if n <= 1 {
		for i := range scores {
			scores[i] = 1
		}
		return scores
	}
	s := 1.0 / float64(n-1)
	for i := range adj {
		scores[i] = float64(len(adj[i])) * s
	}
	return scores
}

// Closeness returns the incoming closeness centrality of every node, using
// distances from the nodes that can reach it. Scores are scaled by the share
// of the graph that reaches the node (Wasserman and Faust), so nodes in small
// components do not get inflated values.
func Closeness(ctx context.Context, g *Graph) ([]float64, error) {
	n := g.NodeCount()
	scores := make([]float64, n)
	if n <= 1 {
		return scores, nil
	}

	dist := make([]int, n)
	queue := make([]int, 0, n)

	for u := 0; u < n; u++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i := range dist {
			dist[i] = -1
		}
		dist[u] = 0
		queue = append(queue[:0], u)

		total, reached := 0, 1
		for head := 0; head < len(queue); head++ {
			v := queue[head]
			// walk edges backwards: who reaches v
			for _, w := range g.in[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					total += dist[w]
					reached++
					queue = append(queue, w)
				}
			}
		}

		if total > 0 {
			r := float64(reached - 1)
			scores[u] = (r / float64(total)) * (r / float64(n-1))
		}
	}

	return scores, nil
}

// Betweenness returns the betweenness centrality of every node, normalized
// by 1/((n-1)(n-2)) for a directed graph. The Brandes pass itself cannot be
// interrupted; ctx is only checked before it starts.
func Betweenness(ctx context.Context, g *Graph) ([]float64, error) {
	n := g.NodeCount()
	bc := make([]float64, n)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 2 {
		return bc, nil
	}

	raw := network.Betweenness(g.directed())
	scale := 1.0 / (float64(n-1) * float64(n-2))
	for id, score := range raw {
		bc[int(id)] = score * scale
	}
	return bc, nil
}

// directed returns the graph as a gonum directed graph with node ids equal to
// node indexes
func (g *Graph) directed() *simple.DirectedGraph {
	dg := simple.NewDirectedGraph()
	for i := range g.entities {
		dg.AddNode(simple.Node(int64(i)))
	}
	for u, targets := range g.out {
		for _, v := range targets {
			dg.SetEdge(dg.NewEdge(simple.Node(int64(u)), simple.Node(int64(v))))
		}
	}
	return dg
}
