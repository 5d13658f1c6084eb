package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/voyago/voyago/internal/domain"
	"github.com/voyago/voyago/internal/domain/progress"
	"github.com/voyago/voyago/internal/port/progressstore"
)

// runKeepalive sends a ping frame every interval, carrying the current
// snapshot so a client catches up even if a pub/sub message was missed.
// It ends the stream when the snapshot shows a terminal state the
// bridge did not observe.
func runKeepalive(ctx context.Context, store progressstore.Reader, taskID string, c sender, interval time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap, err := store.Get(ctx, taskID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				log.Warn("keepalive snapshot read failed", "task_id", taskID, "error", err)
				snap = nil
			}
			if snap == nil {
				snap = &progress.TaskProgress{TaskID: taskID}
			}

			frame, err := json.Marshal(pingEvent{Type: TypePing, Data: snap, Timestamp: timestamp()})
			if err != nil {
				return err
			}
			if err := c.Send(ctx, frame); err != nil {
				return err
			}
			if snap.Status.Terminal() {
				return errStreamDone
			}
		}
	}
}
