package ws

import (
	"context"
	"log/slog"
	"sync"
)

// Registry tracks active connections grouped by an opaque key (task id,
// user id or itinerary id). Multiple clients may watch the same key.
type Registry struct {
	mu    sync.Mutex
	conns map[string]map[sender]struct{}
	log   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		conns: make(map[string]map[sender]struct{}),
		log:   log,
	}
}

// Add registers a connection under the given key.
func (r *Registry) Add(key string, c sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[key]
	if !ok {
		set = make(map[sender]struct{})
		r.conns[key] = set
	}
	set[c] = struct{}{}
}

// Remove unregisters a connection. Empty key sets are deleted so the
// map does not accumulate finished keys.
func (r *Registry) Remove(key string, c sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, key)
	}
}

// Broadcast sends data to every connection registered under key and
// returns the number of successful deliveries. Connections that fail to
// accept the write are dropped from the registry; one dead client never
// blocks delivery to the rest.
func (r *Registry) Broadcast(ctx context.Context, key string, data []byte) int {
	r.mu.Lock()
	targets := make([]sender, 0, len(r.conns[key]))
	for c := range r.conns[key] {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	var failed []sender
	sent := 0
	for _, c := range targets {
		if err := c.Send(ctx, data); err != nil {
			r.log.Debug("broadcast write failed", "key", key, "error", err)
			failed = append(failed, c)
			continue
		}
		sent++
	}
	for _, c := range failed {
		r.Remove(key, c)
	}
	return sent
}

// Count returns the number of connections registered under key.
func (r *Registry) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[key])
}

// Total returns the number of connections across all keys.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}
