package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voyago/voyago/internal/port/broker"
)

// errStreamDone signals a clean end of a stream: the task reached a
// terminal state. Returned as an error so sibling goroutines in the
// same errgroup are cancelled.
var errStreamDone = errors.New("stream done")

// runBridge subscribes to a task's update channel and forwards each
// message to the connection until the task reaches a terminal state,
// the subscription closes, or ctx is cancelled. Malformed messages are
// logged and skipped.
func runBridge(ctx context.Context, b broker.Broker, taskID string, c sender, log *slog.Logger) error {
	msgs, cancel, err := b.Subscribe(ctx, broker.TaskUpdates(taskID))
	if err != nil {
		return fmt.Errorf("subscribe task %s: %w", taskID, err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-msgs:
			if !ok {
				return errStreamDone
			}
			frame, terminal, err := envelopeFor(raw)
			if err != nil {
				log.Warn("skipping malformed progress message", "task_id", taskID, "error", err)
				continue
			}
			if err := c.Send(ctx, frame); err != nil {
				return fmt.Errorf("send to client: %w", err)
			}
			if terminal {
				log.Info("task reached terminal state", "task_id", taskID)
				return errStreamDone
			}
		}
	}
}
