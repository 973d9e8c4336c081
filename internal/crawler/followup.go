package crawler

import (
	"context"
	"fmt"
	"sort"

	"github.com/alvmarrod/stream-weaver/internal/memory"
	"github.com/alvmarrod/stream-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// FetchFollowsOfTop fetches the follow lists of the k entities with the most
// views among those whose follows are still unknown. k <= 0 means all of them.
func (c *Crawler) FetchFollowsOfTop(ctx context.Context, corpus []storage.Entity, k int) (Result, error) {
	return c.runPass(ctx, "follows", corpus, k,
		func(e storage.Entity) bool { return !e.FollowsFetched() },
		func(ctx context.Context, e *storage.Entity) error {
			e.Follows = c.follows.Follows(ctx, e.ID)
			c.report(1, 0, 0, len(e.Follows), 0)
			return nil
		},
	)
}

// RefreshFollowsOfTop fetches again the follow lists of the k entities with
// the most views, bypassing any cached list. k <= 0 means all of them.
func (c *Crawler) RefreshFollowsOfTop(ctx context.Context, corpus []storage.Entity, k int) (Result, error) {
	return c.runPass(ctx, "refreshed follows", corpus, k,
		func(storage.Entity) bool { return true },
		func(ctx context.Context, e *storage.Entity) error {
			e.Follows = c.follows.Refetch(ctx, e.ID)
			c.report(1, 0, 0, len(e.Follows), 0)
			return nil
		},
	)
}

// FetchFollowerCountsOfTop fetches the follower counts of the k entities with
// the most views among those whose count is still unknown. k <= 0 means all of them.
func (c *Crawler) FetchFollowerCountsOfTop(ctx context.Context, corpus []storage.Entity, k int) (Result, error) {
	return c.runPass(ctx, "follower counts", corpus, k,
		func(e storage.Entity) bool { return e.FollowerCount == nil },
		func(ctx context.Context, e *storage.Entity) error {
			n, err := c.follows.FollowerCount(ctx, e.ID)
			if err != nil {
				return err
			}
			e.FollowerCount = &n
			c.report(1, 0, 0, 0, 0)
			return nil
		},
	)
}

// runPass applies fetch to the top-k candidates by view count, checkpointing
// like the crawl loop and flushing once on exit
func (c *Crawler) runPass(
	ctx context.Context,
	what string,
	entities []storage.Entity,
	k int,
	needs func(storage.Entity) bool,
	fetch func(context.Context, *storage.Entity) error,
) (Result, error) {
	corpus := memory.NewCorpus()
	corpus.AddAll(entities)
	all := corpus.Entities()

	candidates := make([]storage.Entity, 0, len(all))
	for _, e := range all {
		if needs(e) {
			candidates = append(candidates, e)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ViewCount > candidates[j].ViewCount
	})
	if k > 0 && k < len(candidates) {
		candidates = candidates[:k]
	}

	logrus.Infof("Fetching %s of the top %d/%d entities (by view count)", what, len(candidates), len(all))

	fetchCtx := context.WithoutCancel(ctx)
	reason := ReasonPassCompleted
	if len(candidates) == 0 {
		reason = ReasonNothingToFetch
	}

	processed, failed := 0, 0
	for _, e := range candidates {
		if ctx.Err() != nil {
			reason = ReasonInterrupted
			logrus.Infof("Interrupt received, stopping after %d/%d entities", processed, len(candidates))
			break
		}

		if err := fetch(fetchCtx, &e); err != nil {
			logrus.Errorf("Failed to fetch %s of %s (%s): %v", what, e.Name, e.ID, err)
			failed++
			c.report(0, 0, 1, 0, 0)
		} else if err := corpus.Update(e); err != nil {
			return Result{}, err
		}
		processed++

		if processed == 1 || processed%c.cfg.CheckpointEvery == 0 {
			logrus.Infof("%d/%d entities have been processed", processed, len(candidates))
			c.checkpoint(corpus.Entities())
		}
	}

	result := Result{
		Corpus:     corpus.Entities(),
		Iterations: processed,
		Failed:     failed,
		Reason:     reason,
	}

	if err := c.persist(result.Corpus); err != nil {
		return result, fmt.Errorf("final flush: %w", err)
	}
	return result, nil
}
