package crawler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/alvmarrod/stream-weaver/internal/config"
	"github.com/alvmarrod/stream-weaver/internal/memory"
	"github.com/alvmarrod/stream-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// ErrSeedFiltered is returned when the seed entity does not match the categorical filter
var ErrSeedFiltered = errors.New("seed does not match filter")

// Termination reasons
const (
	ReasonFrontierEmpty  = "frontier_empty"
	ReasonBudgetReached  = "budget_reached"
	ReasonInterrupted    = "interrupted"
	ReasonPassCompleted  = "completed"
	ReasonNothingToFetch = "nothing_to_fetch"
)

// FollowSource fetches per-entity follow data
type FollowSource interface {
	Follows(ctx context.Context, id string) []string
	Refetch(ctx context.Context, id string) []string
	FollowerCount(ctx context.Context, id string) (int64, error)
}

// EntitySource resolves identifiers to entity records
type EntitySource interface {
	Resolve(ctx context.Context, ids, names []string) ([]storage.Entity, error)
}

// StatsFunc receives progress deltas after every step
type StatsFunc func(expanded, discovered, failed, edges, checkpoints int)

// Result is the outcome of a crawl or follow-up pass
type Result struct {
	Corpus     []storage.Entity
	Iterations int
	Failed     int
	Reason     string
}

// Crawler grows a randomized, budgeted sample of the follow graph
type Crawler struct {
	cfg           *config.Config
	follows       FollowSource
	resolver      EntitySource
	store         memory.CorpusWriter
	filter        *Filter
	rng           *rand.Rand
	statsCallback StatsFunc
}

// NewCrawler creates a new crawler instance. store may be nil to skip persistence.
func NewCrawler(cfg *config.Config, follows FollowSource, resolver EntitySource, store memory.CorpusWriter, statsCallback StatsFunc) *Crawler {
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &Crawler{
		cfg:           cfg,
		follows:       follows,
		resolver:      resolver,
		store:         store,
		filter:        NewFilter(cfg),
		rng:           rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		statsCallback: statsCallback,
	}
}

// Run expands the follow graph from seed until the frontier empties, the
// budget is met or ctx is cancelled. Cancellation is only observed between
// iterations. The corpus is persisted every CheckpointEvery iterations and
// once more before returning.
func (c *Crawler) Run(ctx context.Context, seed storage.Entity) (Result, error) {
	if !c.filter.Matches(seed) {
		return Result{}, fmt.Errorf("%w: %s (lang=%q, type=%q)", ErrSeedFiltered, seed.Name, seed.Language, seed.BroadcasterType)
	}

	budget := c.cfg.Budget
	if budget > 0 {
		logrus.Infof("Crawling from %s until %d entities are retrieved or the crawl is interrupted", seed.Name, budget)
	} else {
		logrus.Infof("Crawling from %s until the crawl is interrupted (no budget)", seed.Name)
	}

	frontier := NewFrontier()
	frontier.Push(seed)
	rejected := make(map[string]bool)

	// In-flight fetches are never torn by an interrupt
	fetchCtx := context.WithoutCancel(ctx)

	var (
		iterations int
		failed     int
		reason     string
	)

	for {
		if ctx.Err() != nil {
			reason = ReasonInterrupted
			logrus.Infof("Interrupt received, stopping the crawl after %d iterations", iterations)
			break
		}
		if frontier.Size() == 0 {
			reason = ReasonFrontierEmpty
			break
		}
		if budget > 0 && frontier.Total() >= budget {
			reason = ReasonBudgetReached
			logrus.Infof("Budget reached at iteration %d: %d entities retrieved", iterations, frontier.Total())
			break
		}

		entity, _ := frontier.PopRandom(c.rng)

		discovered, err := c.expand(fetchCtx, &entity, frontier, rejected)
		if err != nil {
			logrus.Errorf("Failed to expand %s (%s), dropping it: %v", entity.Name, entity.ID, err)
			failed++
			c.report(0, 0, 1, 0, 0)
			continue
		}

		frontier.MarkVisited(entity)

		added := 0
		for _, e := range discovered {
			if !c.filter.Allow(e) {
				rejected[e.ID] = true
				continue
			}
			if frontier.Push(e) {
				added++
			}
		}
		c.report(1, added, 0, len(entity.Follows), 0)

		logrus.Debugf("Expanded %s: %d follows, %d new entities", entity.Name, len(entity.Follows), added)

		if iterations%c.cfg.CheckpointEvery == 0 {
			logrus.Infof("Iteration %d: %d entities retrieved so far (%d visited, %d in frontier)",
				iterations+1, frontier.Total(), frontier.VisitedCount(), frontier.Size())
			c.checkpoint(c.capToBudget(frontier.Snapshot()))
		}

		iterations++
	}

	corpus := c.capToBudget(frontier.Snapshot())
	logrus.Infof("Crawl stopped (%s): %d entities retrieved in %d iterations, %d expansions failed",
		reason, len(corpus), iterations, failed)

	result := Result{
		Corpus:     corpus,
		Iterations: iterations,
		Failed:     failed,
		Reason:     reason,
	}

	if err := c.persist(corpus); err != nil {
		return result, fmt.Errorf("final flush: %w", err)
	}
	return result, nil
}

// expand fetches the follows of entity, records them on it, and resolves
// the targets not seen before
func (c *Crawler) expand(ctx context.Context, entity *storage.Entity, frontier *Frontier, rejected map[string]bool) ([]storage.Entity, error) {
	follows := c.follows.Follows(ctx, entity.ID)

	unknown := make([]string, 0, len(follows))
	seen := make(map[string]bool, len(follows))
	for _, id := range follows {
		if seen[id] || id == entity.ID || frontier.Known(id) || rejected[id] {
			continue
		}
		seen[id] = true
		unknown = append(unknown, id)
	}

	var discovered []storage.Entity
	if len(unknown) > 0 {
		var err error
		discovered, err = c.resolver.Resolve(ctx, unknown, nil)
		if err != nil {
			return nil, err
		}
	}

	entity.Follows = follows
	return discovered, nil
}

// capToBudget trims the most recently discovered pending entities so the
// corpus never exceeds the budget. Visited entities always fit.
func (c *Crawler) capToBudget(snapshot []storage.Entity) []storage.Entity {
	if c.cfg.Budget > 0 && len(snapshot) > c.cfg.Budget {
		return snapshot[:c.cfg.Budget]
	}
	return snapshot
}

// checkpoint persists an intermediate corpus; failures are logged, not fatal
func (c *Crawler) checkpoint(snapshot []storage.Entity) {
	if c.store == nil {
		return
	}
	if err := c.persist(snapshot); err != nil {
		logrus.Errorf("Checkpoint failed: %v", err)
		return
	}
	c.report(0, 0, 0, 0, 1)
}

// persist writes a deduplicated corpus to the store
func (c *Crawler) persist(entities []storage.Entity) error {
	if c.store == nil {
		return nil
	}
	corpus := memory.NewCorpus()
	corpus.AddAll(entities)
	return corpus.Flush(c.store)
}

func (c *Crawler) report(expanded, discovered, failed, edges, checkpoints int) {
	if c.statsCallback != nil {
		c.statsCallback(expanded, discovered, failed, edges, checkpoints)
	}
}
