package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
)

// batchRequest is the inbound subscription management message.
type batchRequest struct {
	Action  string   `json:"action"` // subscribe | unsubscribe
	TaskIDs []string `json:"task_ids"`
}

// taskSet is the mutable subscription set of one batch session.
type taskSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newTaskSet() *taskSet {
	return &taskSet{ids: make(map[string]struct{})}
}

func (s *taskSet) add(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

func (s *taskSet) remove(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.ids, id)
	}
}

func (s *taskSet) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HandleBatchProgress multiplexes progress for many tasks over one
// connection. The client manages its subscription set with
// subscribe/unsubscribe messages; the server polls the snapshot store
// and pushes batch_progress frames. Tasks that reach a terminal state
// are reported once more and then dropped from the set.
func (h *Handler) HandleBatchProgress(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}
	defer sock.CloseNow() //nolint:errcheck

	ctx := r.Context()
	c := newConn(sock, h.cfg.SendTimeout)
	defer trackStream(ctx, h.metrics, "batch")()
	h.log.Info("batch stream connected", "remote", r.RemoteAddr)

	if !h.send(ctx, c, connectedEvent{
		Type:      TypeConnected,
		Message:   "Connected to batch progress stream. Send subscribe/unsubscribe actions.",
		Timestamp: timestamp(),
	}) {
		return
	}

	set := newTaskSet()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.runBatchReceive(gctx, sock, c, set)
	})
	g.Go(func() error {
		return h.runBatchPoll(gctx, c, set)
	})

	err = g.Wait()
	switch {
	case err == nil || errors.Is(err, context.Canceled) || isClientGone(err):
		h.log.Info("batch stream client disconnected")
	default:
		h.log.Error("batch stream error", "error", err)
	}
}

// runBatchReceive processes subscription management messages and acks
// each with the resulting set.
func (h *Handler) runBatchReceive(ctx context.Context, sock *websocket.Conn, c sender, set *taskSet) error {
	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			return err
		}

		var req batchRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.log.Warn("invalid batch request", "error", err)
			continue
		}

		switch req.Action {
		case "subscribe":
			set.add(req.TaskIDs)
			if !h.send(ctx, c, subscribedEvent{
				Type:      TypeSubscribed,
				TaskIDs:   set.list(),
				Timestamp: timestamp(),
			}) {
				return errors.New("batch ack failed")
			}
		case "unsubscribe":
			set.remove(req.TaskIDs)
			if !h.send(ctx, c, unsubscribedEvent{
				Type:      TypeUnsubscribed,
				TaskIDs:   req.TaskIDs,
				Remaining: set.list(),
				Timestamp: timestamp(),
			}) {
				return errors.New("batch ack failed")
			}
		default:
			h.log.Warn("unknown batch action", "action", req.Action)
		}
	}
}

// runBatchPoll pushes a batch_progress frame with the current snapshots
// of all subscribed tasks every poll interval.
func (h *Handler) runBatchPoll(ctx context.Context, c sender, set *taskSet) error {
	ticker := time.NewTicker(h.cfg.BatchPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ids := set.list()
			if len(ids) == 0 {
				continue
			}

			snaps, err := h.store.GetMany(ctx, ids)
			if err != nil {
				h.log.Warn("batch snapshot read failed", "error", err)
				continue
			}
			if len(snaps) == 0 {
				continue
			}

			if !h.send(ctx, c, batchProgressEvent{
				Type:      TypeBatchProgress,
				Data:      snaps,
				Timestamp: timestamp(),
			}) {
				return errors.New("batch push failed")
			}

			// Finished tasks got their last frame; stop polling them.
			var done []string
			for _, snap := range snaps {
				if snap.Status.Terminal() {
					done = append(done, snap.TaskID)
				}
			}
			set.remove(done)
		}
	}
}
