package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	votel "github.com/voyago/voyago/internal/adapter/otel"
	"github.com/voyago/voyago/internal/config"
	"github.com/voyago/voyago/internal/port/broker"
)

// AlertHub serves the proactive alert streaming endpoints. Clients
// subscribe by user id or by itinerary id; alerts published to the
// matching broker channel fan out to every connection on that key.
//
// Unlike task streams, alert channels are long-lived and shared: the
// hub holds ONE broker subscription per key, refcounted across
// connections, and broadcasts into the registry.
type AlertHub struct {
	broker   broker.Broker
	registry *Registry
	metrics  *votel.Metrics
	cfg      config.Stream
	log      *slog.Logger

	mu   sync.Mutex
	subs map[string]*alertSub // broker channel -> shared subscription
}

type alertSub struct {
	refs   int
	cancel context.CancelFunc
}

func NewAlertHub(b broker.Broker, cfg config.Stream, log *slog.Logger) *AlertHub {
	return &AlertHub{
		broker:   b,
		registry: NewRegistry(log),
		cfg:      cfg,
		log:      log,
		subs:     make(map[string]*alertSub),
	}
}

// Registry exposes the alert connection registry for health reporting.
func (h *AlertHub) Registry() *Registry {
	return h.registry
}

// SetMetrics attaches metric instruments. Without them the hub runs
// uninstrumented.
func (h *AlertHub) SetMetrics(m *votel.Metrics) {
	h.metrics = m
}

// HandleUserAlerts streams every alert published for a user.
func (h *AlertHub) HandleUserAlerts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	h.serve(w, r, broker.UserAlerts(userID), connectedEvent{
		Type:      TypeConnected,
		Message:   "Connected to alert stream",
		UserID:    userID,
		Timestamp: timestamp(),
	})
}

// HandleItineraryAlerts streams alerts for a single itinerary, for
// clients that only have one trip on screen.
func (h *AlertHub) HandleItineraryAlerts(w http.ResponseWriter, r *http.Request) {
	itineraryID := chi.URLParam(r, "itineraryID")
	h.serve(w, r, broker.ItineraryAlerts(itineraryID), connectedEvent{
		Type:        TypeConnected,
		Message:     "Connected to itinerary alert stream",
		ItineraryID: itineraryID,
		Timestamp:   timestamp(),
	})
}

func (h *AlertHub) serve(w http.ResponseWriter, r *http.Request, channel string, welcome connectedEvent) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.log.Error("websocket accept failed", "channel", channel, "error", err)
		return
	}
	defer sock.CloseNow() //nolint:errcheck

	ctx := r.Context()
	c := newConn(sock, h.cfg.SendTimeout)

	frame, err := json.Marshal(welcome)
	if err != nil || c.Send(ctx, frame) != nil {
		return
	}

	h.registry.Add(channel, c)
	defer h.registry.Remove(channel, c)
	defer trackStream(ctx, h.metrics, "alerts")()

	if err := h.acquire(channel); err != nil {
		h.log.Error("alert subscription failed", "channel", channel, "error", err)
		frame, merr := json.Marshal(newErrorEvent("alert stream unavailable"))
		if merr == nil {
			_ = c.Send(ctx, frame)
		}
		return
	}
	defer h.release(channel)

	h.log.Info("alert stream connected", "channel", channel, "remote", r.RemoteAddr)

	// Block until the client goes away; delivery happens via the
	// shared subscription loop.
	err = readUntilClose(ctx, sock)
	if errors.Is(err, context.Canceled) || isClientGone(err) {
		h.log.Info("alert stream client disconnected", "channel", channel)
		return
	}
	h.log.Warn("alert stream read error", "channel", channel, "error", err)
}

// acquire takes a reference on the shared subscription for channel,
// starting it on first use.
func (h *AlertHub) acquire(channel string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[channel]; ok {
		sub.refs++
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	msgs, unsub, err := h.broker.Subscribe(ctx, channel)
	if err != nil {
		cancel()
		return err
	}

	h.subs[channel] = &alertSub{refs: 1, cancel: func() {
		unsub()
		cancel()
	}}
	go h.pump(ctx, channel, msgs)
	return nil
}

// release drops a reference, tearing the subscription down when the
// last connection on the key leaves.
func (h *AlertHub) release(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[channel]
	if !ok {
		return
	}
	sub.refs--
	if sub.refs > 0 {
		return
	}
	sub.cancel()
	delete(h.subs, channel)
}

// pump forwards published alerts on one channel to every registered
// connection.
func (h *AlertHub) pump(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				return
			}
			frame, err := json.Marshal(newAlertEvent(raw))
			if err != nil {
				h.log.Warn("encode alert failed", "channel", channel, "error", err)
				continue
			}
			sent := h.registry.Broadcast(ctx, channel, frame)
			h.log.Debug("alert delivered", "channel", channel, "connections", sent)
		}
	}
}
