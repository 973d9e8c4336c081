package fetch

import (
	"context"
	"fmt"

	"github.com/alvmarrod/stream-weaver/internal/storage"
	"github.com/alvmarrod/stream-weaver/internal/upstream"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Resolver materializes entity records from identifiers or names
type Resolver struct {
	api upstream.API
}

// NewResolver creates a resolver over the upstream API
func NewResolver(api upstream.API) *Resolver {
	return &Resolver{api: api}
}

// Resolve returns the entities for the given identifiers, or for the given
// names when no identifier is supplied. Identifiers the API does not know are
// silently absent from the result.
func (r *Resolver) Resolve(ctx context.Context, ids, names []string) ([]storage.Entity, error) {
	if len(ids) == 0 && len(names) == 0 {
		return nil, fmt.Errorf("no identifier or name supplied: %w", upstream.ErrLookup)
	}

	if len(ids) == 0 {
		resolved, err := r.idsForNames(ctx, names)
		if err != nil {
			return nil, err
		}
		ids = resolved
	}

	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("empty identifier: %w", upstream.ErrLookup)
		}
	}

	entities := make([]storage.Entity, 0, len(ids))
	for start := 0; start < len(ids); start += upstream.MaxBatchSize {
		end := min(start+upstream.MaxBatchSize, len(ids))
		batch, err := r.resolveBatch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		entities = append(entities, batch...)
	}

	return entities, nil
}

// ResolveOne returns a single entity by identifier, or by name when id is empty
func (r *Resolver) ResolveOne(ctx context.Context, id, name string) (storage.Entity, error) {
	if id == "" && name == "" {
		return storage.Entity{}, fmt.Errorf("no identifier or name supplied: %w", upstream.ErrLookup)
	}

	var (
		entities []storage.Entity
		err      error
	)
	if id != "" {
		entities, err = r.Resolve(ctx, []string{id}, nil)
	} else {
		entities, err = r.Resolve(ctx, nil, []string{name})
	}
	if err != nil {
		return storage.Entity{}, err
	}
	if len(entities) == 0 {
		return storage.Entity{}, fmt.Errorf("entity %q not found: %w", id+name, upstream.ErrLookup)
	}
	return entities[0], nil
}

// idsForNames resolves every name with its own single-item lookup
func (r *Resolver) idsForNames(ctx context.Context, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("empty name: %w", upstream.ErrLookup)
		}
		users, err := r.api.Users(ctx, nil, []string{name})
		if err != nil {
			return nil, fmt.Errorf("failed to look up %q: %w", name, err)
		}
		if len(users) == 0 {
			return nil, fmt.Errorf("name %q not found: %w", name, upstream.ErrLookup)
		}
		ids = append(ids, users[0].ID)
	}
	return ids, nil
}

// resolveBatch looks up profile and channel data of up to MaxBatchSize identifiers
// in parallel and joins them by identifier
func (r *Resolver) resolveBatch(ctx context.Context, ids []string) ([]storage.Entity, error) {
	var (
		users    []upstream.User
		channels []upstream.Channel
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = r.api.Users(gctx, ids, nil)
		return err
	})
	g.Go(func() error {
		var err error
		channels, err = r.api.Channels(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to resolve batch of %d: %w", len(ids), err)
	}

	byID := make(map[string]upstream.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.BroadcasterID] = ch
	}

	entities := make([]storage.Entity, 0, len(users))
	for _, u := range users {
		e := storage.Entity{
			ID:              u.ID,
			Name:            u.Login,
			BroadcasterType: u.BroadcasterType,
			Description:     u.Description,
			ViewCount:       u.ViewCount,
			ProfileImageURL: u.ProfileImageURL,
			CreatedAt:       u.CreatedAt,
		}
		if ch, ok := byID[u.ID]; ok {
			e.Language = ch.BroadcasterLanguage
			e.LastGame = ch.GameName
		} else {
			logrus.Debugf("No channel data for %s (%s)", u.Login, u.ID)
		}
		entities = append(entities, e)
	}

	return entities, nil
}
