package crawler

import (
	"math/rand/v2"

	"github.com/alvmarrod/stream-weaver/internal/storage"
)

// Frontier holds the discovered-but-unexpanded entities and the visited set.
// It is owned by a single crawl loop and is not safe for concurrent use.
type Frontier struct {
	items      []storage.Entity // insertion order
	pending    map[string]bool
	visited    []storage.Entity
	visitedIDs map[string]bool
}

// NewFrontier creates an empty frontier
func NewFrontier() *Frontier {
	return &Frontier{
		items:      make([]storage.Entity, 0),
		pending:    make(map[string]bool),
		visited:    make([]storage.Entity, 0),
		visitedIDs: make(map[string]bool),
	}
}

// Push adds an entity unless it is already pending or visited.
// Returns true if added, false if duplicate.
func (f *Frontier) Push(e storage.Entity) bool {
	if f.pending[e.ID] || f.visitedIDs[e.ID] {
		return false
	}
	f.pending[e.ID] = true
	f.items = append(f.items, e)
	return true
}

// PopRandom removes and returns an entity chosen uniformly at random.
// The remaining entities keep their insertion order.
// Returns (entity, true) if successful, (empty, false) if the frontier is empty.
func (f *Frontier) PopRandom(rng *rand.Rand) (storage.Entity, bool) {
	if len(f.items) == 0 {
		return storage.Entity{}, false
	}

	i := rng.IntN(len(f.items))
	entry := f.items[i]
	f.items = append(f.items[:i], f.items[i+1:]...)
	delete(f.pending, entry.ID)
	return entry, true
}

// MarkVisited records an expanded entity. Visited entities never return to the frontier.
func (f *Frontier) MarkVisited(e storage.Entity) {
	if f.visitedIDs[e.ID] {
		return
	}
	f.visitedIDs[e.ID] = true
	f.visited = append(f.visited, e)
}

// Known reports whether an identifier is pending or visited
func (f *Frontier) Known(id string) bool {
	return f.pending[id] || f.visitedIDs[id]
}

// Size returns the number of pending entities
func (f *Frontier) Size() int {
	return len(f.items)
}

// VisitedCount returns the number of expanded entities
func (f *Frontier) VisitedCount() int {
	return len(f.visited)
}

// Total returns pending plus visited
func (f *Frontier) Total() int {
	return len(f.items) + len(f.visited)
}

// Snapshot returns the visited entities followed by the pending ones.
// Used for persisting crawl state on checkpoint/shutdown.
func (f *Frontier) Snapshot() []storage.Entity {
	entries := make([]storage.Entity, 0, f.Total())
	for _, e := range f.visited {
		entries = append(entries, e.Clone())
	}
	for _, e := range f.items {
		entries = append(entries, e.Clone())
	}
	return entries
}
