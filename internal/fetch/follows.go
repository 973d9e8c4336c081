package fetch

import (
	"context"

	"github.com/alvmarrod/stream-weaver/internal/upstream"
	"github.com/sirupsen/logrus"
)

// FollowFetcher retrieves outbound follow lists and follower counts
type FollowFetcher struct {
	api   upstream.API
	cache *FollowCache
}

// NewFollowFetcher creates a fetcher. cache may be nil to disable memoization.
func NewFollowFetcher(api upstream.API, cache *FollowCache) *FollowFetcher {
	return &FollowFetcher{api: api, cache: cache}
}

// Follows walks the cursor pagination of id's follow list and returns every
// target in order. A failure mid-walk ends the walk: the targets gathered so
// far are returned and no error is raised. The result is never nil.
func (f *FollowFetcher) Follows(ctx context.Context, id string) []string {
	if f.cache != nil {
		if follows, ok := f.cache.Get(id); ok {
			logrus.Debugf("Follow cache hit for %s (%d targets)", id, len(follows))
			return follows
		}
	}

	follows := make([]string, 0, upstream.PageSize)
	cursor := ""
	complete := false

	for pages := 1; ; pages++ {
		page, err := f.api.Follows(ctx, id, cursor)
		if err != nil {
			logrus.Warnf("Follows of %s aborted at page %d, keeping %d targets: %v", id, pages, len(follows), err)
			break
		}

		follows = append(follows, page.Targets...)

		if page.NextCursor == "" {
			complete = true
			break
		}
		if page.NextCursor == cursor {
			logrus.Warnf("Follows of %s returned a repeated cursor at page %d, stopping", id, pages)
			break
		}
		cursor = page.NextCursor
	}

	if complete && f.cache != nil {
		f.cache.Put(id, follows)
	}

	return follows
}

// Refetch drops any cached follow list of id and fetches it again
func (f *FollowFetcher) Refetch(ctx context.Context, id string) []string {
	if f.cache != nil {
		f.cache.Invalidate(id)
	}
	return f.Follows(ctx, id)
}

// FollowerCount returns the number of followers of id
func (f *FollowFetcher) FollowerCount(ctx context.Context, id string) (int64, error) {
	return f.api.FollowerCount(ctx, id)
}
