package crawler

import (
	"strings"

	"github.com/alvmarrod/stream-weaver/internal/config"
	"github.com/alvmarrod/stream-weaver/internal/storage"
)

// Filter decides which discovered entities belong to the sample
type Filter struct {
	language         string
	broadcasterTypes map[string]bool
	excluded         map[string]bool // identifiers and lower-cased names
}

// NewFilter builds the categorical filter from the configuration.
// An empty broadcaster type list accepts every type.
func NewFilter(cfg *config.Config) *Filter {
	f := &Filter{
		language:         strings.ToLower(cfg.Language),
		broadcasterTypes: make(map[string]bool, len(cfg.BroadcasterTypes)),
		excluded:         make(map[string]bool, len(cfg.Exclude)),
	}
	for _, t := range cfg.BroadcasterTypes {
		f.broadcasterTypes[strings.ToLower(t)] = true
	}
	for _, ex := range cfg.Exclude {
		f.excluded[strings.ToLower(ex)] = true
	}
	return f
}

// Matches checks the language and broadcaster type of an entity
func (f *Filter) Matches(e storage.Entity) bool {
	if f.language != "" && strings.ToLower(e.Language) != f.language {
		return false
	}
	if len(f.broadcasterTypes) > 0 && !f.broadcasterTypes[strings.ToLower(e.BroadcasterType)] {
		return false
	}
	return true
}

// IsExcluded checks if an entity is on the exclusion list, by identifier or name
func (f *Filter) IsExcluded(e storage.Entity) bool {
	return f.excluded[strings.ToLower(e.ID)] || f.excluded[strings.ToLower(e.Name)]
}

// Allow reports whether a discovered entity may join the frontier
func (f *Filter) Allow(e storage.Entity) bool {
	return f.Matches(e) && !f.IsExcluded(e)
}
