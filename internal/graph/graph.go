package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alvmarrod/stream-weaver/internal/storage"
)

var (
	// ErrDanglingEdge is returned when a follow target has no node in the graph
	ErrDanglingEdge = errors.New("dangling edge")
	// ErrDuplicateNode is returned when two records share an identifier
	ErrDuplicateNode = errors.New("duplicate node")
	// ErrUnknownNode is returned when a focal identifier is not in the graph
	ErrUnknownNode = errors.New("unknown node")
)

// Graph is a read-only directed follow graph. Nodes keep corpus order and
// edges keep follow-list order.
type Graph struct {
	entities []storage.Entity
	index    map[string]int
	out      [][]int
	in       [][]int
	edges    int
}

// New builds a graph from a filtered corpus. Self-follows are ignored and
// repeated targets collapse into one edge.
func New(corpus []storage.Entity) (*Graph, error) {
	g := &Graph{
		entities: make([]storage.Entity, len(corpus)),
		index:    make(map[string]int, len(corpus)),
		out:      make([][]int, len(corpus)),
		in:       make([][]int, len(corpus)),
	}

	for i, e := range corpus {
		if _, exists := g.index[e.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, e.ID)
		}
		g.index[e.ID] = i
		g.entities[i] = e.Clone()
	}

	for i, e := range corpus {
		seen := make(map[int]bool, len(e.Follows))
		for _, target := range e.Follows {
			j, ok := g.index[target]
			if !ok {
				return nil, fmt.Errorf("%w: %s -> %s", ErrDanglingEdge, e.ID, target)
			}
			if j == i || seen[j] {
				continue
			}
			seen[j] = true
			g.out[i] = append(g.out[i], j)
			g.in[j] = append(g.in[j], i)
			g.edges++
		}
	}

	return g, nil
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int {
	return len(g.entities)
}

// EdgeCount returns the number of distinct edges
func (g *Graph) EdgeCount() int {
	return g.edges
}

// IDs returns node identifiers in corpus order
func (g *Graph) IDs() []string {
	ids := make([]string, len(g.entities))
	for i, e := range g.entities {
		ids[i] = e.ID
	}
	return ids
}

// Entity returns the node record of id
func (g *Graph) Entity(id string) (storage.Entity, bool) {
	i, ok := g.index[id]
	if !ok {
		return storage.Entity{}, false
	}
	return g.entities[i].Clone(), true
}

// Follows returns the identifiers id follows, in follow-list order
func (g *Graph) Follows(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.idsOf(g.out[i])
}

// Followers returns the identifiers following id
func (g *Graph) Followers(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.idsOf(g.in[i])
}

// HasEdge reports whether from follows to
func (g *Graph) HasEdge(from, to string) bool {
	i, ok := g.index[from]
	if !ok {
		return false
	}
	j, ok := g.index[to]
	if !ok {
		return false
	}
	for _, k := range g.out[i] {
		if k == j {
			return true
		}
	}
	return false
}

// FindByName returns the identifier of the node whose name matches, ignoring case
func (g *Graph) FindByName(name string) (string, bool) {
	for _, e := range g.entities {
		if strings.EqualFold(e.Name, name) {
			return e.ID, true
		}
	}
	return "", false
}

func (g *Graph) idsOf(idx []int) []string {
	ids := make([]string, len(idx))
	for k, i := range idx {
		ids[k] = g.entities[i].ID
	}
	return ids
}
