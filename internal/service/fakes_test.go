package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voyago/voyago/internal/domain"
	"github.com/voyago/voyago/internal/domain/itinerary"
	"github.com/voyago/voyago/internal/domain/progress"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBroker records published messages per channel.
type fakeBroker struct {
	mu       sync.Mutex
	messages map[string][][]byte
	fail     bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{messages: make(map[string][][]byte)}
}

func (b *fakeBroker) Publish(_ context.Context, channel string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("broker down")
	}
	b.messages[channel] = append(b.messages[channel], data)
	return nil
}

func (b *fakeBroker) Subscribe(context.Context, string) (<-chan []byte, func(), error) {
	return nil, nil, errors.New("not implemented")
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) IsConnected() bool { return true }

func (b *fakeBroker) published(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.messages[channel]
}

// fakeSnapshotStore implements progressstore.Store in memory.
type fakeSnapshotStore struct {
	mu    sync.Mutex
	snaps map[string]progress.TaskProgress
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{snaps: make(map[string]progress.TaskProgress)}
}

func (f *fakeSnapshotStore) Put(_ context.Context, snap *progress.TaskProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[snap.TaskID] = *snap
	return nil
}

func (f *fakeSnapshotStore) get(taskID string) (progress.TaskProgress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[taskID]
	return snap, ok
}

// fakeItineraryStore implements database.Store in memory. Transitions
// run under one mutex, mirroring the row-level atomicity of the real
// store.
type fakeItineraryStore struct {
	mu    sync.Mutex
	items map[string]*itinerary.Itinerary
}

func newFakeItineraryStore() *fakeItineraryStore {
	return &fakeItineraryStore{items: make(map[string]*itinerary.Itinerary)}
}

func (f *fakeItineraryStore) GetItinerary(_ context.Context, id string) (*itinerary.Itinerary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("get itinerary %s: %w", id, domain.ErrNotFound)
	}
	cp := *it
	return &cp, nil
}

func (f *fakeItineraryStore) GetItineraryByTaskID(_ context.Context, taskID string) (*itinerary.Itinerary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.GenerationTaskID == taskID || it.ReplanTaskID == taskID {
			cp := *it
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("get itinerary by task %s: %w", taskID, domain.ErrNotFound)
}

func (f *fakeItineraryStore) ListItineraries(_ context.Context, userID string) ([]itinerary.Itinerary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []itinerary.Itinerary
	for _, it := range f.items {
		if it.UserID == userID {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeItineraryStore) CreateItinerary(_ context.Context, req itinerary.CreateRequest) (*itinerary.Itinerary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	it := &itinerary.Itinerary{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		Title:          req.Title,
		Destination:    req.Destination,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Status:         itinerary.StatusDraft,
		OriginalPrompt: req.Prompt,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	f.items[it.ID] = it
	cp := *it
	return &cp, nil
}

// transition applies a domain state change under the store mutex.
func (f *fakeItineraryStore) transition(id string, apply func(*itinerary.Itinerary, time.Time) error) (*itinerary.Itinerary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("get itinerary %s: %w", id, domain.ErrNotFound)
	}
	if err := apply(it, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("itinerary %s: %w", id, err)
	}
	cp := *it
	return &cp, nil
}

func (f *fakeItineraryStore) BeginGeneration(_ context.Context, id, taskID string) (*itinerary.Itinerary, error) {
	return f.transition(id, func(it *itinerary.Itinerary, now time.Time) error {
		return it.BeginGeneration(taskID, now)
	})
}

func (f *fakeItineraryStore) CompleteGeneration(_ context.Context, id string, data json.RawMessage) (*itinerary.Itinerary, error) {
	return f.transition(id, func(it *itinerary.Itinerary, now time.Time) error {
		return it.CompleteGeneration(data, now)
	})
}

func (f *fakeItineraryStore) FailGeneration(_ context.Context, id, msg string) (*itinerary.Itinerary, error) {
	return f.transition(id, func(it *itinerary.Itinerary, now time.Time) error {
		return it.FailGeneration(msg, now)
	})
}

func (f *fakeItineraryStore) AcquireReplanLock(_ context.Context, id, taskID string, trig itinerary.ReplanTrigger) (*itinerary.Itinerary, error) {
	return f.transition(id, func(it *itinerary.Itinerary, now time.Time) error {
		return it.BeginReplan(taskID, trig, now)
	})
}

func (f *fakeItineraryStore) CompleteReplan(_ context.Context, id string, newData json.RawMessage, changes []string) (*itinerary.Itinerary, error) {
	return f.transition(id, func(it *itinerary.Itinerary, now time.Time) error {
		return it.CompleteReplan(newData, changes, now)
	})
}

func (f *fakeItineraryStore) FailReplan(_ context.Context, id, msg string) (*itinerary.Itinerary, error) {
	return f.transition(id, func(it *itinerary.Itinerary, now time.Time) error {
		return it.FailReplan(msg, now)
	})
}
