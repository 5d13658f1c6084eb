// Package natskv implements the progress snapshot store port on a NATS
// JetStream KV bucket. The bucket plays the role of the keyed progress
// store: bucket "task_progress", key = task id.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/voyago/voyago/internal/domain"
	"github.com/voyago/voyago/internal/domain/progress"
)

// Store reads and writes TaskProgress snapshots in a JetStream KV
// bucket. Entries expire at the bucket-level TTL; the job producer
// overwrites the snapshot on every step.
type Store struct {
	kv jetstream.KeyValue
}

// New creates a KV-backed progress store.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Get returns the last-known snapshot for the task, or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, taskID string) (*progress.TaskProgress, error) {
	entry, err := s.kv.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("progress %s: %w", taskID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("progress get %s: %w", taskID, err)
	}

	var snap progress.TaskProgress
	if err := json.Unmarshal(entry.Value(), &snap); err != nil {
		return nil, fmt.Errorf("progress decode %s: %w", taskID, err)
	}
	return &snap, nil
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

// Active returns the snapshots of all tasks still running. Keys that
// expire or turn terminal between listing and reading are skipped.
func (s *Store) Active(ctx context.Context) ([]progress.TaskProgress, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("progress list: %w", err)
	}
	defer lister.Stop() //nolint:errcheck

	var snaps []progress.TaskProgress
	for id := range lister.Keys() {
		snap, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if snap.Status.Terminal() {
			continue
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

// Put overwrites the snapshot for snap.TaskID.
func (s *Store) Put(ctx context.Context, snap *progress.TaskProgress) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("progress encode %s: %w", snap.TaskID, err)
	}
	if _, err := s.kv.Put(ctx, snap.TaskID, data); err != nil {
		return fmt.Errorf("progress put %s: %w", snap.TaskID, err)
	}
	return nil
}
