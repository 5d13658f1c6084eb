package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	votel "github.com/voyago/voyago/internal/adapter/otel"
	"github.com/voyago/voyago/internal/config"
	"github.com/voyago/voyago/internal/domain"
	"github.com/voyago/voyago/internal/port/broker"
	"github.com/voyago/voyago/internal/port/progressstore"
)

// Handler serves the task progress streaming endpoints.
type Handler struct {
	broker   broker.Broker
	store    progressstore.Reader
	registry *Registry
	metrics  *votel.Metrics
	cfg      config.Stream
	log      *slog.Logger
}

func NewHandler(b broker.Broker, store progressstore.Reader, reg *Registry, cfg config.Stream, log *slog.Logger) *Handler {
	return &Handler{broker: b, store: store, registry: reg, cfg: cfg, log: log}
}

// SetMetrics attaches metric instruments. Without them the handler runs
// uninstrumented.
func (h *Handler) SetMetrics(m *votel.Metrics) {
	h.metrics = m
}

// Registry exposes the task connection registry, mainly for health and
// metrics reporting.
func (h *Handler) Registry() *Registry {
	return h.registry
}

// HandleTaskProgress streams progress for a single task. On connect the
// client receives the last-known snapshot; if the task already finished
// the final frame is sent and the stream closes. Otherwise live updates
// are bridged from the broker, with periodic pings carrying the current
// snapshot, until the task reaches a terminal state or the client
// disconnects.
func (h *Handler) HandleTaskProgress(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.log.Error("websocket accept failed", "task_id", taskID, "error", err)
		return
	}
	defer sock.CloseNow() //nolint:errcheck

	ctx := r.Context()
	c := newConn(sock, h.cfg.SendTimeout)
	h.registry.Add(taskID, c)
	defer h.registry.Remove(taskID, c)
	defer trackStream(ctx, h.metrics, "task")()

	h.log.Info("task stream connected", "task_id", taskID, "remote", r.RemoteAddr)

	snap, err := h.store.Get(ctx, taskID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		snap = nil
	default:
		h.log.Error("snapshot read failed", "task_id", taskID, "error", err)
		h.send(ctx, c, newErrorEvent("failed to load task status"))
		return
	}

	if snap == nil {
		if !h.send(ctx, c, newConnectedEvent(pendingSnapshot(taskID), "Connected, waiting for task updates")) {
			return
		}
	} else {
		if !h.send(ctx, c, newConnectedEvent(snap, "Connected to task progress stream")) {
			return
		}
		// Already finished: replay the final state and close.
		if snap.Status.Terminal() {
			h.send(ctx, c, newFinalEvent(snap))
			_ = sock.Close(websocket.StatusNormalClosure, "")
			return
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runBridge(gctx, h.broker, taskID, c, h.log)
	})
	g.Go(func() error {
		return runKeepalive(gctx, h.store, taskID, c, h.cfg.KeepaliveInterval, h.log)
	})
	g.Go(func() error {
		return readUntilClose(gctx, sock)
	})

	err = g.Wait()
	switch {
	case err == nil || errors.Is(err, errStreamDone):
		_ = sock.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, context.Canceled) || isClientGone(err):
		h.log.Info("task stream client disconnected", "task_id", taskID)
	default:
		h.log.Error("task stream error", "task_id", taskID, "error", err)
		h.send(ctx, c, newErrorEvent(err.Error()))
	}
}

// isClientGone reports whether the error is an ordinary client
// disconnect rather than a stream failure.
func isClientGone(err error) bool {
	return websocket.CloseStatus(err) != -1 || errors.Is(err, io.EOF)
}

// readUntilClose consumes inbound frames to detect client disconnects
// and returns when the connection or context ends.
func readUntilClose(ctx context.Context, sock *websocket.Conn) error {
	for {
		if _, _, err := sock.Read(ctx); err != nil {
			return err
		}
	}
}

// send marshals and writes one event, reporting success. Failures are
// logged at debug level; the caller decides whether the stream ends.
func (h *Handler) send(ctx context.Context, c sender, event any) bool {
	frame, err := json.Marshal(event)
	if err != nil {
		h.log.Error("encode frame failed", "error", err)
		return false
	}
	if err := c.Send(ctx, frame); err != nil {
		h.log.Debug("client write failed", "error", err)
		return false
	}
	return true
}
