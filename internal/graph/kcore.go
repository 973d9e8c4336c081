package graph

import "sort"

// CoreNumber returns the core number of every node: the largest k such that
// the node belongs to a k-core. Degrees count incoming and outgoing edges, so
// a mutual follow contributes two. Batagelj and Zaversnik, O(n + m).
func CoreNumber(g *Graph) []int {
	n := g.NodeCount()
	core := make([]int, n)
	if n == 0 {
		return core
	}

	nbrs := make([][]int, n)
	for v := 0; v < n; v++ {
		nbrs[v] = make([]int, 0, len(g.in[v])+len(g.out[v]))
		nbrs[v] = append(nbrs[v], g.in[v]...)
		nbrs[v] = append(nbrs[v], g.out[v]...)
		core[v] = len(nbrs[v])
	}

	nodes := make([]int, n)
	for i := range nodes {
		nodes[i] = i
	}
	sort.SliceStable(nodes, func(a, b int) bool { return core[nodes[a]] < core[nodes[b]] })

	// binStart[d] is the position in nodes of the first node with degree d
	binStart := []int{0}
	current := 0
	for i, v := range nodes {
		for core[v] > current {
			binStart = append(binStart, i)
			current++
		}
	}

	pos := make([]int, n)
	for i, v := range nodes {
		pos[v] = i
	}

	for i := 0; i < n; i++ {
		v := nodes[i]
		for _, u := range nbrs[v] {
			if core[u] <= core[v] {
				continue
			}
			nbrs[u] = removeFirst(nbrs[u], v)

			pu := pos[u]
			start := binStart[core[u]]
			w := nodes[start]
			nodes[start], nodes[pu] = u, w
			pos[u], pos[w] = start, pu

			binStart[core[u]]++
			core[u]--
		}
	}

	return core
}

func removeFirst(s []int, v int) []int {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
