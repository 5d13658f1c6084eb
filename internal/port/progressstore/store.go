// Package progressstore defines the port for the keyed task progress
// snapshot store.
package progressstore

import (
	"context"

	"github.com/voyago/voyago/internal/domain/progress"
)

// Reader reads last-known task progress snapshots. Get returns
// domain.ErrNotFound (wrapped) when no snapshot exists for the task.
type Reader interface {
	Get(ctx context.Context, taskID string) (*progress.TaskProgress, error)

	// GetMany returns the snapshots that exist for the given ids, in
	// input order. Missing ids are skipped, not errors.
	GetMany(ctx context.Context, taskIDs []string) ([]progress.TaskProgress, error)

	// Active returns the snapshots of tasks that have not reached a
	// terminal state.
	Active(ctx context.Context) ([]progress.TaskProgress, error)
}

// Writer persists a snapshot, overwriting any previous one for the task.
// Only job producers (the lifecycle tracker) write.
type Writer interface {
	Put(ctx context.Context, snap *progress.TaskProgress) error
}

// Store combines snapshot reads and producer-side writes.
type Store interface {
	Reader
	Writer
}
