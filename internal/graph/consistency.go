package graph

import "github.com/alvmarrod/stream-weaver/internal/storage"

// Filter returns a copy of corpus where every follow target that is not an
// entity of the corpus has been removed. Duplicate identifiers keep their
// first record. Entities whose follows are unknown or fully removed get an
// empty, non-nil follow list. The input is left untouched and applying
// Filter to its own output changes nothing.
func Filter(corpus []storage.Entity) []storage.Entity {
	nodes := storage.Dedup(corpus)

	ids := make(map[string]bool, len(nodes))
	for _, e := range nodes {
		ids[e.ID] = true
	}

	filtered := make([]storage.Entity, 0, len(nodes))
	for _, e := range nodes {
		c := e.Clone()
		c.Follows = make([]string, 0, len(e.Follows))
		for _, target := range e.Follows {
			if ids[target] {
				c.Follows = append(c.Follows, target)
			}
		}
		filtered = append(filtered, c)
	}

	return filtered
}

// Dangling counts follow targets that have no entity in the corpus
func Dangling(corpus []storage.Entity) int {
	ids := make(map[string]bool, len(corpus))
	for _, e := range corpus {
		ids[e.ID] = true
	}

	dangling := 0
	for _, e := range corpus {
		for _, target := range e.Follows {
			if !ids[target] {
				dangling++
			}
		}
	}
	return dangling
}
