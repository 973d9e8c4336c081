package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func count(n int64) *int64 { return &n }

func TestSaveCorpus_RoundTrip(t *testing.T) {
	s := newTestStorage(t)
	created := time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC)

	corpus := []Entity{
		{
			ID: "1", Name: "ibai", BroadcasterType: "partner", Language: "es",
			LastGame: "Just Chatting", ViewCount: 1000, FollowerCount: count(42),
			CreatedAt: created, Follows: []string{"2", "3"},
		},
		{ID: "2", Name: "auronplay", BroadcasterType: "partner", Language: "es", Follows: []string{}},
		{ID: "3", Name: "thegrefg", BroadcasterType: "affiliate", Language: "es"},
	}

	version, err := s.SaveCorpus(corpus)
	require.NoError(t, err)
	assert.Equal(t, CorpusVersion(corpus), version)

	loaded, err := s.LoadCorpus()
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	assert.Equal(t, []string{"1", "2", "3"}, []string{loaded[0].ID, loaded[1].ID, loaded[2].ID})
	assert.Equal(t, "Just Chatting", loaded[0].LastGame)
	assert.Equal(t, int64(1000), loaded[0].ViewCount)
	require.NotNil(t, loaded[0].FollowerCount)
	assert.Equal(t, int64(42), *loaded[0].FollowerCount)
	assert.True(t, created.Equal(loaded[0].CreatedAt))
	assert.Equal(t, []string{"2", "3"}, loaded[0].Follows)

	// Empty and unknown follow lists stay distinct
	assert.NotNil(t, loaded[1].Follows)
	assert.Empty(t, loaded[1].Follows)
	assert.True(t, loaded[1].FollowsFetched())
	assert.Nil(t, loaded[2].Follows)
	assert.False(t, loaded[2].FollowsFetched())
	assert.Nil(t, loaded[2].FollowerCount)

	stored, err := s.CorpusVersion()
	require.NoError(t, err)
	assert.Equal(t, version, stored)
}

func TestSaveCorpus_FirstOccurrenceWins(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.SaveCorpus([]Entity{
		{ID: "1", Name: "first"},
		{ID: "2", Name: "other"},
		{ID: "1", Name: "second"},
	})
	require.NoError(t, err)

	loaded, err := s.LoadCorpus()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "first", loaded[0].Name)
}

func TestSaveCorpus_Overwrites(t *testing.T) {
	s := newTestStorage(t)

	v1, err := s.SaveCorpus([]Entity{{ID: "1"}, {ID: "2"}})
	require.NoError(t, err)
	v2, err := s.SaveCorpus([]Entity{{ID: "3", Follows: []string{}}})
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	loaded, err := s.LoadCorpus()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "3", loaded[0].ID)
}

func TestCorpusVersion_EmptyStore(t *testing.T) {
	s := newTestStorage(t)

	version, err := s.CorpusVersion()
	require.NoError(t, err)
	assert.Empty(t, version)
}

func TestCorpusVersion_DistinguishesUnfetchedFollows(t *testing.T) {
	fetched := []Entity{{ID: "1", Follows: []string{}}}
	unknown := []Entity{{ID: "1"}}
	assert.NotEqual(t, CorpusVersion(fetched), CorpusVersion(unknown))
	assert.Equal(t, CorpusVersion(unknown), CorpusVersion([]Entity{{ID: "1", Name: "renamed"}}))
}

func TestMetric_RoundTrip(t *testing.T) {
	s := newTestStorage(t)

	_, _, err := s.LoadMetric("pagerank")
	require.ErrorIs(t, err, ErrMetricNotFound)

	scores := []MetricScore{{EntityID: "2", Score: 0.6}, {EntityID: "1", Score: 0.4}}
	require.NoError(t, s.SaveMetric("pagerank", "v1", scores))

	loaded, version, err := s.LoadMetric("pagerank")
	require.NoError(t, err)
	assert.Equal(t, "v1", version)
	assert.Equal(t, scores, loaded)

	// Replacing keeps only the new artifact
	require.NoError(t, s.SaveMetric("pagerank", "v2", scores[:1]))
	loaded, version, err = s.LoadMetric("pagerank")
	require.NoError(t, err)
	assert.Equal(t, "v2", version)
	assert.Len(t, loaded, 1)
}

func TestRecordRun(t *testing.T) {
	s := newTestStorage(t)
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordRun(CrawlRun{
		RunID: "run-1", Kind: RunCrawl, StartTime: start, EndTime: start.Add(time.Minute),
		Iterations: 10, CorpusSize: 120, TerminationReason: "budget_reached",
	}))
	require.NoError(t, s.RecordRun(CrawlRun{
		RunID: "run-1", Kind: RunFollowers, StartTime: start.Add(2 * time.Minute), EndTime: start.Add(3 * time.Minute),
		Iterations: 5, CorpusSize: 120, TerminationReason: "completed",
	}))
	// Re-recording a run updates it
	require.NoError(t, s.RecordRun(CrawlRun{
		RunID: "run-1", Kind: RunCrawl, StartTime: start, EndTime: start.Add(time.Minute),
		Iterations: 11, CorpusSize: 120, TerminationReason: "budget_reached",
	}))

	runs, err := s.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, RunCrawl, runs[0].Kind)
	assert.Equal(t, 11, runs[0].Iterations)
	assert.Equal(t, RunFollowers, runs[1].Kind)
}

func TestEntity_CloneIsIndependent(t *testing.T) {
	e := Entity{ID: "1", FollowerCount: count(3), Follows: []string{"2"}}
	c := e.Clone()
	c.Follows[0] = "9"
	*c.FollowerCount = 7

	assert.Equal(t, "2", e.Follows[0])
	assert.Equal(t, int64(3), *e.FollowerCount)
	assert.True(t, e.Same(Entity{ID: "1", Name: "different"}))
}
