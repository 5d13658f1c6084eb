package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/voyago/voyago/internal/domain"
	"github.com/voyago/voyago/internal/domain/progress"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSender records delivered frames; fail makes every send error.
type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (f *fakeSender) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection closed")
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeSender) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

// fakeBroker is an in-process pub/sub broker.
type fakeBroker struct {
	mu           sync.Mutex
	subs         map[string][]chan []byte
	subscribed   int
	unsubscribed int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: make(map[string][]chan []byte)}
}

func (b *fakeBroker) Publish(_ context.Context, channel string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		ch <- data
	}
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = append(b.subs[channel], ch)
	b.subscribed++

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			chans := b.subs[channel]
			for i, c := range chans {
				if c == ch {
					b.subs[channel] = append(chans[:i], chans[i+1:]...)
					break
				}
			}
			close(ch)
			b.unsubscribed++
		})
	}
	return ch, cancel, nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) IsConnected() bool { return true }

func (b *fakeBroker) counts() (subscribed, unsubscribed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribed, b.unsubscribed
}

// fakeProgressStore serves snapshots from a map.
type fakeProgressStore struct {
	mu    sync.Mutex
	snaps map[string]progress.TaskProgress
}

func newFakeProgressStore() *fakeProgressStore {
	return &fakeProgressStore{snaps: make(map[string]progress.TaskProgress)}
}

func (f *fakeProgressStore) put(snap progress.TaskProgress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[snap.TaskID] = snap
}

func (f *fakeProgressStore) Get(_ context.Context, taskID string) (*progress.TaskProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[taskID]
	if !ok {
		return nil, fmt.Errorf("progress %s: %w", taskID, domain.ErrNotFound)
	}
	return &snap, nil
}

func (f *fakeProgressStore) Active(_ context.Context) ([]progress.TaskProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []progress.TaskProgress
	for _, snap := range f.snaps {
		if !snap.Status.Terminal() {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (f *fakeProgressStore) GetMany(_ context.Context, ids []string) ([]progress.TaskProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]progress.TaskProgress, 0, len(ids))
	for _, id := range ids {
		if snap, ok := f.snaps[id]; ok {
			out = append(out, snap)
		}
	}
	return out, nil
}
