package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/alvmarrod/stream-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// CorpusWriter persists a whole corpus, replacing what was stored before
type CorpusWriter interface {
	SaveCorpus(entities []storage.Entity) (string, error)
}

// CorpusLoader reads a previously persisted corpus
type CorpusLoader interface {
	LoadCorpus() ([]storage.Entity, error)
}

// Corpus holds entity records in memory, deduplicated by identifier.
// The first record added for an identifier wins; insertion order is kept.
type Corpus struct {
	entities []storage.Entity
	index    map[string]int // id -> position in entities
	mu       sync.RWMutex
}

// NewCorpus creates an empty in-memory corpus
func NewCorpus() *Corpus {
	return &Corpus{
		entities: make([]storage.Entity, 0),
		index:    make(map[string]int),
	}
}

// Add inserts an entity unless one with the same identifier exists.
// Returns true if it was added.
func (c *Corpus) Add(e storage.Entity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.index[e.ID]; exists {
		return false
	}
	c.index[e.ID] = len(c.entities)
	c.entities = append(c.entities, e)
	return true
}

// AddAll inserts every entity, in order, and returns how many were new
func (c *Corpus) AddAll(entities []storage.Entity) int {
	added := 0
	for _, e := range entities {
		if c.Add(e) {
			added++
		}
	}
	return added
}

// Update replaces the stored record of e.ID in place
func (c *Corpus) Update(e storage.Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, exists := c.index[e.ID]
	if !exists {
		return fmt.Errorf("entity %s not found", e.ID)
	}
	c.entities[pos] = e
	return nil
}

// Len returns the number of distinct entities
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

// Entities returns a copy of all entities in insertion order
func (c *Corpus) Entities() []storage.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]storage.Entity, len(c.entities))
	for i, e := range c.entities {
		out[i] = e.Clone()
	}
	return out
}

// GetStats returns the entity count and the number of follow edges fetched so far
func (c *Corpus) GetStats() (entityCount, edgeCount int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range c.entities {
		edgeCount += len(e.Follows)
	}
	return len(c.entities), edgeCount
}

// Flush writes the corpus to storage as a full overwrite
func (c *Corpus) Flush(store CorpusWriter) error {
	entities := c.Entities()

	startTime := time.Now()
	logrus.Infof("Writing %d entities to storage...", len(entities))

	version, err := store.SaveCorpus(entities)
	if err != nil {
		return fmt.Errorf("failed to flush corpus: %w", err)
	}

	logrus.Infof("Flush complete: %d entities written in %v (version %.12s)", len(entities), time.Since(startTime), version)
	return nil
}

// LoadFromStorage populates the corpus from storage (for follow-up passes and analysis)
func (c *Corpus) LoadFromStorage(store CorpusLoader) error {
	logrus.Info("Loading corpus from database into memory...")

	entities, err := store.LoadCorpus()
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}

	added := c.AddAll(entities)
	logrus.Infof("Loaded %d entities into memory", added)
	return nil
}
