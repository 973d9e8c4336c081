package crawler

import (
	"context"
	"testing"

	"github.com/alvmarrod/stream-weaver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func viewCorpus() []storage.Entity {
	return []storage.Entity{
		{ID: "low", ViewCount: 10},
		{ID: "high", ViewCount: 1000},
		{ID: "done", ViewCount: 5000, Follows: []string{"low"}},
		{ID: "mid", ViewCount: 500},
		{ID: "high", ViewCount: 1},
	}
}

func byID(entities []storage.Entity) map[string]storage.Entity {
	out := make(map[string]storage.Entity, len(entities))
	for _, e := range entities {
		out[e.ID] = e
	}
	return out
}

func TestFetchFollowsOfTop(t *testing.T) {
	w := newWorld()
	w.follows["high"] = []string{"mid"}
	w.follows["mid"] = []string{"high", "low"}
	store := &memStore{}

	result, err := NewCrawler(testConfig(), w, w, store, nil).FetchFollowsOfTop(context.Background(), viewCorpus(), 2)
	require.NoError(t, err)

	assert.Equal(t, ReasonPassCompleted, result.Reason)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, []string{"high", "mid"}, w.followCalls, "most viewed first, already fetched skipped")

	got := byID(result.Corpus)
	assert.Len(t, result.Corpus, 4, "duplicates removed")
	assert.Equal(t, []string{"mid"}, got["high"].Follows)
	assert.Equal(t, []string{"high", "low"}, got["mid"].Follows)
	assert.Nil(t, got["low"].Follows)
	assert.Equal(t, []string{"low"}, got["done"].Follows)

	assert.Equal(t, ids(result.Corpus), ids(store.last()))
}

func TestFetchFollowsOfTop_AllWhenKIsZero(t *testing.T) {
	w := newWorld()

	result, err := NewCrawler(testConfig(), w, w, nil, nil).FetchFollowsOfTop(context.Background(), viewCorpus(), 0)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Iterations)
	for _, e := range result.Corpus {
		assert.True(t, e.FollowsFetched(), e.ID)
	}
}

func TestRefreshFollowsOfTop(t *testing.T) {
	w := newWorld()
	w.follows["done"] = []string{"high", "mid"}
	w.follows["high"] = []string{"done"}

	result, err := NewCrawler(testConfig(), w, w, &memStore{}, nil).RefreshFollowsOfTop(context.Background(), viewCorpus(), 2)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, []string{"done", "high"}, w.refetched, "already fetched lists are refreshed too")
	got := byID(result.Corpus)
	assert.Equal(t, []string{"high", "mid"}, got["done"].Follows)
	assert.Equal(t, []string{"done"}, got["high"].Follows)
}

func TestFetchFollowerCountsOfTop_SkipsFailures(t *testing.T) {
	w := newWorld()
	w.counts["high"] = 12000
	w.counts["done"] = 90000

	result, err := NewCrawler(testConfig(), w, w, &memStore{}, nil).FetchFollowerCountsOfTop(context.Background(), viewCorpus(), 3)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, 1, result.Failed)

	got := byID(result.Corpus)
	require.NotNil(t, got["done"].FollowerCount)
	assert.Equal(t, int64(90000), *got["done"].FollowerCount)
	require.NotNil(t, got["high"].FollowerCount)
	assert.Equal(t, int64(12000), *got["high"].FollowerCount)
	assert.Nil(t, got["mid"].FollowerCount)
	assert.Nil(t, got["low"].FollowerCount)
}

func TestFollowUpPass_NothingToFetch(t *testing.T) {
	w := newWorld()
	corpus := []storage.Entity{{ID: "a", Follows: []string{}}}

	result, err := NewCrawler(testConfig(), w, w, nil, nil).FetchFollowsOfTop(context.Background(), corpus, 5)
	require.NoError(t, err)
	assert.Equal(t, ReasonNothingToFetch, result.Reason)
	assert.Empty(t, w.followCalls)
}

func TestFollowUpPass_Interrupted(t *testing.T) {
	w := newWorld()
	ctx, cancel := context.WithCancel(context.Background())
	w.onFollows = func(calls int) {
		if calls == 1 {
			cancel()
		}
	}
	store := &memStore{}

	result, err := NewCrawler(testConfig(), w, w, store, nil).FetchFollowsOfTop(ctx, viewCorpus(), 0)
	require.NoError(t, err)

	assert.Equal(t, ReasonInterrupted, result.Reason)
	assert.Equal(t, 1, result.Iterations)
	assert.True(t, byID(store.last())["high"].FollowsFetched())
	assert.False(t, byID(store.last())["mid"].FollowsFetched())
}
