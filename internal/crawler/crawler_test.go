package crawler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/alvmarrod/stream-weaver/internal/config"
	"github.com/alvmarrod/stream-weaver/internal/storage"
	"github.com/alvmarrod/stream-weaver/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// world is an in-memory upstream: entity records plus follow lists
type world struct {
	mu          sync.Mutex
	entities    map[string]storage.Entity
	follows     map[string][]string
	counts      map[string]int64
	failResolve map[string]bool
	followCalls []string
	refetched   []string
	onFollows   func(calls int)
}

func newWorld() *world {
	return &world{
		entities:    make(map[string]storage.Entity),
		follows:     make(map[string][]string),
		counts:      make(map[string]int64),
		failResolve: make(map[string]bool),
	}
}

func (w *world) add(id, lang, kind string, follows ...string) {
	w.entities[id] = storage.Entity{ID: id, Name: "user" + id, Language: lang, BroadcasterType: kind}
	w.follows[id] = follows
}

func (w *world) Follows(_ context.Context, id string) []string {
	w.mu.Lock()
	w.followCalls = append(w.followCalls, id)
	calls := len(w.followCalls)
	hook := w.onFollows
	w.mu.Unlock()

	if hook != nil {
		hook(calls)
	}
	return append([]string{}, w.follows[id]...)
}

func (w *world) Refetch(ctx context.Context, id string) []string {
	w.mu.Lock()
	w.refetched = append(w.refetched, id)
	w.mu.Unlock()
	return w.Follows(ctx, id)
}

func (w *world) FollowerCount(_ context.Context, id string) (int64, error) {
	n, ok := w.counts[id]
	if !ok {
		return 0, &upstream.ApiError{Endpoint: "users/follows", StatusCode: 500, Err: errors.New("boom")}
	}
	return n, nil
}

func (w *world) Resolve(_ context.Context, ids, _ []string) ([]storage.Entity, error) {
	var out []storage.Entity
	for _, id := range ids {
		if w.failResolve[id] {
			return nil, &upstream.ApiError{Endpoint: "users", StatusCode: 503, Err: errors.New("unavailable")}
		}
		if e, ok := w.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

type memStore struct {
	saves [][]storage.Entity
}

func (m *memStore) SaveCorpus(entities []storage.Entity) (string, error) {
	m.saves = append(m.saves, entities)
	return storage.CorpusVersion(entities), nil
}

func (m *memStore) last() []storage.Entity {
	if len(m.saves) == 0 {
		return nil
	}
	return m.saves[len(m.saves)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		Language:         "es",
		BroadcasterTypes: []string{"partner", "affiliate"},
		CheckpointEvery:  10,
		RandomSeed:       7,
	}
}

// ringWorld links n Spanish partners, each following the next three
func ringWorld(n int) *world {
	w := newWorld()
	for i := 0; i < n; i++ {
		w.add(fmt.Sprint(i), "es", "partner",
			fmt.Sprint((i+1)%n), fmt.Sprint((i+7)%n), fmt.Sprint((i+13)%n))
	}
	return w
}

func ids(entities []storage.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}

func TestRun_BudgetCapsCorpus(t *testing.T) {
	w := newWorld()
	targets := make([]string, 10)
	for i := range targets {
		targets[i] = fmt.Sprint("t", i)
		w.add(targets[i], "es", "affiliate")
	}
	w.add("seed", "es", "partner", targets...)

	cfg := testConfig()
	cfg.Budget = 5
	store := &memStore{}

	result, err := NewCrawler(cfg, w, w, store, nil).Run(context.Background(), w.entities["seed"])
	require.NoError(t, err)

	assert.Equal(t, ReasonBudgetReached, result.Reason)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, []string{"seed", "t0", "t1", "t2", "t3"}, ids(result.Corpus))
	assert.Equal(t, targets, result.Corpus[0].Follows)
	assert.Equal(t, ids(result.Corpus), ids(store.last()))
}

func TestRun_BudgetLawHoldsForAnySeed(t *testing.T) {
	for _, budget := range []int{1, 2, 7, 30} {
		for seed := uint64(1); seed <= 5; seed++ {
			w := ringWorld(50)
			cfg := testConfig()
			cfg.Budget = budget
			cfg.RandomSeed = seed

			result, err := NewCrawler(cfg, w, w, nil, nil).Run(context.Background(), w.entities["0"])
			require.NoError(t, err)
			assert.LessOrEqual(t, len(result.Corpus), budget)
			assert.Equal(t, ReasonBudgetReached, result.Reason)
		}
	}
}

func TestRun_ExhaustsFrontier(t *testing.T) {
	w := newWorld()
	w.add("s", "es", "partner", "a", "b")
	w.add("a", "es", "partner", "s")
	w.add("b", "es", "affiliate")

	expanded := 0
	stats := func(e, _, _, _, _ int) { expanded += e }

	result, err := NewCrawler(testConfig(), w, w, &memStore{}, stats).Run(context.Background(), w.entities["s"])
	require.NoError(t, err)

	assert.Equal(t, ReasonFrontierEmpty, result.Reason)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, 3, expanded)
	assert.ElementsMatch(t, []string{"s", "a", "b"}, ids(result.Corpus))
	assert.Equal(t, "s", result.Corpus[0].ID)
	for _, e := range result.Corpus {
		assert.True(t, e.FollowsFetched(), e.ID)
	}
}

func TestRun_FiltersDiscoveredEntities(t *testing.T) {
	w := newWorld()
	w.add("s", "es", "partner", "ok", "english", "plain", "bot", "s")
	w.add("ok", "es", "affiliate")
	w.add("english", "en", "partner")
	w.add("plain", "es", "")
	w.add("bot", "es", "partner")

	cfg := testConfig()
	cfg.Exclude = []string{"USERbot"}

	result, err := NewCrawler(cfg, w, w, nil, nil).Run(context.Background(), w.entities["s"])
	require.NoError(t, err)

	assert.Equal(t, []string{"s", "ok"}, ids(result.Corpus))
	// The follow list itself is kept whole
	assert.Equal(t, []string{"ok", "english", "plain", "bot", "s"}, result.Corpus[0].Follows)
}

func TestRun_RejectsFilteredSeed(t *testing.T) {
	w := newWorld()
	w.add("s", "en", "partner")

	_, err := NewCrawler(testConfig(), w, w, nil, nil).Run(context.Background(), w.entities["s"])
	assert.ErrorIs(t, err, ErrSeedFiltered)
}

func TestRun_ResolutionFailureDropsEntity(t *testing.T) {
	w := newWorld()
	w.add("s", "es", "partner", "a")
	w.add("a", "es", "partner", "x")
	w.add("x", "es", "partner")
	w.failResolve["x"] = true

	result, err := NewCrawler(testConfig(), w, w, nil, nil).Run(context.Background(), w.entities["s"])
	require.NoError(t, err)

	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"s"}, ids(result.Corpus))
}

func TestRun_InterruptPersistsProgress(t *testing.T) {
	w := ringWorld(100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.onFollows = func(calls int) {
		if calls == 3 {
			cancel()
		}
	}

	store := &memStore{}
	result, err := NewCrawler(testConfig(), w, w, store, nil).Run(ctx, w.entities["0"])
	require.NoError(t, err)

	assert.Equal(t, ReasonInterrupted, result.Reason)
	assert.Equal(t, 3, result.Iterations)

	saved := store.last()
	require.NotEmpty(t, saved)
	assert.Equal(t, ids(result.Corpus), ids(saved))
	assert.Greater(t, len(saved), 3)
	for i, e := range saved {
		// visited first, then the frontier
		assert.Equal(t, i < 3, e.FollowsFetched(), e.ID)
	}
}

func TestRun_CheckpointsFromFirstIteration(t *testing.T) {
	w := newWorld()
	w.add("0", "es", "partner", "1")
	w.add("1", "es", "partner", "2")
	w.add("2", "es", "partner", "3")
	w.add("3", "es", "partner", "4")
	w.add("4", "es", "partner")

	cfg := testConfig()
	cfg.CheckpointEvery = 2
	store := &memStore{}
	checkpoints := 0
	stats := func(_, _, _, _, c int) { checkpoints += c }

	result, err := NewCrawler(cfg, w, w, store, stats).Run(context.Background(), w.entities["0"])
	require.NoError(t, err)

	assert.Equal(t, 5, result.Iterations)
	assert.Equal(t, 3, checkpoints)
	require.Len(t, store.saves, 4)
	assert.Len(t, store.saves[0], 2, "first checkpoint after the first expansion")
}

func TestRun_SameSeedSameOrder(t *testing.T) {
	order := func() []string {
		w := ringWorld(60)
		cfg := testConfig()
		cfg.Budget = 40
		_, err := NewCrawler(cfg, w, w, nil, nil).Run(context.Background(), w.entities["0"])
		require.NoError(t, err)
		return w.followCalls
	}
	assert.Equal(t, order(), order())
}

func TestFrontier_PopRandomPreservesOrder(t *testing.T) {
	f := NewFrontier()
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.True(t, f.Push(storage.Entity{ID: id}))
	}
	assert.False(t, f.Push(storage.Entity{ID: "b"}))

	rng := rand.New(rand.NewPCG(1, 2))
	picked, ok := f.PopRandom(rng)
	require.True(t, ok)
	f.MarkVisited(picked)

	assert.False(t, f.Push(picked), "visited entities never return")
	assert.Equal(t, 3, f.Size())
	assert.Equal(t, 4, f.Total())

	snap := ids(f.Snapshot())
	assert.Equal(t, picked.ID, snap[0])
	rest := []string{}
	for _, id := range []string{"a", "b", "c", "d"} {
		if id != picked.ID {
			rest = append(rest, id)
		}
	}
	assert.Equal(t, rest, snap[1:])
}

func TestFrontier_PopRandomIsUniform(t *testing.T) {
	const (
		size   = 8
		rounds = 8000
	)
	rng := rand.New(rand.NewPCG(42, 43))
	counts := make([]int, size)

	for r := 0; r < rounds; r++ {
		f := NewFrontier()
		for i := 0; i < size; i++ {
			f.Push(storage.Entity{ID: fmt.Sprint(i)})
		}
		picked, ok := f.PopRandom(rng)
		require.True(t, ok)
		var pos int
		_, err := fmt.Sscan(picked.ID, &pos)
		require.NoError(t, err)
		counts[pos]++
	}

	expected := float64(rounds) / size
	for pos, n := range counts {
		assert.InDelta(t, expected, float64(n), expected*0.15, "position %d picked %d times", pos, n)
	}
	assert.Less(t, counts[0], rounds, "head is not always picked")
}

func TestFrontier_DrainVisitsEveryPosition(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	headFirst := 0
	for r := 0; r < 200; r++ {
		f := NewFrontier()
		for _, id := range []string{"a", "b", "c", "d", "e"} {
			f.Push(storage.Entity{ID: id})
		}
		var order []string
		for f.Size() > 0 {
			e, _ := f.PopRandom(rng)
			order = append(order, e.ID)
		}
		assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, order)
		if order[0] == "a" {
			headFirst++
		}
	}
	assert.Less(t, headFirst, 100, "insertion order is not the pop order")
}

func TestFilter(t *testing.T) {
	cfg := testConfig()
	cfg.Exclude = []string{"123", "SomeBot"}
	f := NewFilter(cfg)

	assert.True(t, f.Allow(storage.Entity{ID: "1", Name: "a", Language: "ES", BroadcasterType: "Partner"}))
	assert.False(t, f.Allow(storage.Entity{ID: "1", Language: "en", BroadcasterType: "partner"}))
	assert.False(t, f.Allow(storage.Entity{ID: "1", Language: "es", BroadcasterType: ""}))
	assert.False(t, f.Allow(storage.Entity{ID: "123", Language: "es", BroadcasterType: "partner"}))
	assert.False(t, f.Allow(storage.Entity{ID: "9", Name: "somebot", Language: "es", BroadcasterType: "partner"}))

	cfg.BroadcasterTypes = nil
	assert.True(t, NewFilter(cfg).Matches(storage.Entity{Language: "es"}))
}
