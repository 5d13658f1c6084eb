// Package service implements business logic on top of ports.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/voyago/voyago/internal/domain/progress"
	"github.com/voyago/voyago/internal/port/broker"
	"github.com/voyago/voyago/internal/port/progressstore"
)

// ProgressTracker records task progress snapshots and broadcasts them
// on the task's update channel. The snapshot write comes first: clients
// that miss the broadcast catch up from the store via keepalive pings
// and batch polls.
type ProgressTracker struct {
	store  progressstore.Writer
	broker broker.Broker
	log    *slog.Logger
}

func NewProgressTracker(store progressstore.Writer, b broker.Broker, log *slog.Logger) *ProgressTracker {
	return &ProgressTracker{store: store, broker: b, log: log}
}

// Publish stamps and persists the snapshot, then broadcasts it. A
// failed broadcast is not an error; delivery degrades to the snapshot
// path.
func (t *ProgressTracker) Publish(ctx context.Context, snap *progress.TaskProgress) error {
	now := time.Now().UTC()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = now
	}
	snap.UpdatedAt = now
	if snap.APIErrors == nil {
		snap.APIErrors = []progress.APIError{}
	}

	if err := t.store.Put(ctx, snap); err != nil {
		return fmt.Errorf("store progress %s: %w", snap.TaskID, err)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode progress %s: %w", snap.TaskID, err)
	}
	if err := t.broker.Publish(ctx, broker.TaskUpdates(snap.TaskID), data); err != nil {
		t.log.Warn("progress broadcast failed", "task_id", snap.TaskID, "error", err)
	}
	return nil
}

// Step reports an intermediate pipeline step.
func (t *ProgressTracker) Step(ctx context.Context, taskID, step string, pct int, message string) error {
	return t.Publish(ctx, &progress.TaskProgress{
		TaskID:   taskID,
		Status:   progress.StatusProgress,
		Step:     step,
		Progress: pct,
		Message:  message,
	})
}

// Queued reports a freshly created task that has not started yet.
func (t *ProgressTracker) Queued(ctx context.Context, taskID, message string) error {
	return t.Publish(ctx, &progress.TaskProgress{
		TaskID:  taskID,
		Status:  progress.StatusPending,
		Step:    progress.StepInitializing,
		Message: message,
	})
}

// Completed reports successful task completion with the result payload.
func (t *ProgressTracker) Completed(ctx context.Context, taskID string, data json.RawMessage, message string) error {
	return t.Publish(ctx, &progress.TaskProgress{
		TaskID:   taskID,
		Status:   progress.StatusCompleted,
		Step:     progress.StepCompleted,
		Progress: 100,
		Message:  message,
		Data:     data,
	})
}

// Failed reports task failure with retry guidance for clients.
func (t *ProgressTracker) Failed(ctx context.Context, taskID, msg, errorType string, canRetry bool) error {
	return t.Publish(ctx, &progress.TaskProgress{
		TaskID:    taskID,
		Status:    progress.StatusFailed,
		Step:      progress.StepFailed,
		Message:   msg,
		Error:     msg,
		ErrorType: errorType,
		CanRetry:  canRetry,
	})
}
