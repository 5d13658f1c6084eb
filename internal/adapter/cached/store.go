// Package cached implements a read-through progress store: an
// in-process cache in front of the remote snapshot store.
package cached

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/voyago/voyago/internal/domain"
	"github.com/voyago/voyago/internal/domain/progress"
	"github.com/voyago/voyago/internal/port/cache"
	"github.com/voyago/voyago/internal/port/progressstore"
)

// Store caches snapshot reads for a short TTL. With N batch connections
// polling the same task every interval, the remote store is hit roughly
// once per TTL instead of N times. Writes go straight through and
// refresh the cached entry so local readers never see an older snapshot
// than the one just produced.
type Store struct {
	inner progressstore.Store
	cache cache.Cache
	ttl   time.Duration
}

// New creates a read-through store. ttl should stay well below the
// polling intervals so terminal states are observed promptly.
func New(inner progressstore.Store, c cache.Cache, ttl time.Duration) *Store {
	return &Store{inner: inner, cache: c, ttl: ttl}
}

// Get returns the cached snapshot when fresh, falling back to the
// remote store and backfilling the cache.
func (s *Store) Get(ctx context.Context, taskID string) (*progress.TaskProgress, error) {
	if data, ok, err := s.cache.Get(ctx, taskID); err == nil && ok {
		var snap progress.TaskProgress
		if err := json.Unmarshal(data, &snap); err == nil {
			return &snap, nil
		}
		// Undecodable entry: drop it and fall through to the source.
		_ = s.cache.Delete(ctx, taskID)
	}

	snap, err := s.inner.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(snap); err == nil {
		_ = s.cache.Set(ctx, taskID, data, s.ttl)
	}
	return snap, nil
}

// GetMany returns the snapshots that exist for the given ids, in input
// order. Missing ids are skipped.
func (s *Store) GetMany(ctx context.Context, taskIDs []string) ([]progress.TaskProgress, error) {
	snaps := make([]progress.TaskProgress, 0, len(taskIDs))
	for _, id := range taskIDs {
		snap, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

// Active lists live tasks from the source. Listings bypass the cache;
// the key set is not enumerable from cached entries.
func (s *Store) Active(ctx context.Context) ([]progress.TaskProgress, error) {
	return s.inner.Active(ctx)
}

// Put writes through to the remote store and refreshes the cache entry.
func (s *Store) Put(ctx context.Context, snap *progress.TaskProgress) error {
	if err := s.inner.Put(ctx, snap); err != nil {
		return err
	}
	if data, err := json.Marshal(snap); err == nil {
		_ = s.cache.Set(ctx, snap.TaskID, data, s.ttl)
	}
	return nil
}
