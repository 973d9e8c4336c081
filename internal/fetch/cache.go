package fetch

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// FollowCache memoizes complete follow lists by identifier.
// Entries older than the TTL are expired by the underlying LRU.
// A zero TTL keeps entries until they are invalidated.
type FollowCache struct {
	lru *expirable.LRU[string, []string]
}

// NewFollowCache creates an empty, unbounded cache
func NewFollowCache(ttl time.Duration) *FollowCache {
	return &FollowCache{
		lru: expirable.NewLRU[string, []string](0, nil, ttl),
	}
}

// Get returns a copy of the cached follow list of id
func (fc *FollowCache) Get(id string) ([]string, bool) {
	follows, ok := fc.lru.Get(id)
	if !ok {
		return nil, false
	}
	return append(make([]string, 0, len(follows)), follows...), true
}

// Put stores a copy of the follow list of id
func (fc *FollowCache) Put(id string, follows []string) {
	fc.lru.Add(id, append(make([]string, 0, len(follows)), follows...))
}

// Invalidate drops the cached follow list of id
func (fc *FollowCache) Invalidate(id string) {
	fc.lru.Remove(id)
}

// Len returns the number of live entries
func (fc *FollowCache) Len() int {
	return len(fc.lru.Keys())
}
