// Package nats implements the broker port using core NATS pub/sub, plus
// access to the JetStream KV bucket backing the progress snapshot store.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Bus implements broker.Broker over a core NATS connection. Progress
// events and alerts are ephemeral fan-out; there is no replay.
type Bus struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and initializes JetStream
// for the snapshot bucket.
func Connect(_ context.Context, url string) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name("voyago-core"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	slog.Info("nats connected", "url", url)
	return &Bus{nc: nc, js: js}, nil
}

// Publish sends a message to the given channel.
func (b *Bus) Publish(_ context.Context, channel string, data []byte) error {
	if err := b.nc.Publish(channel, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe starts receiving messages on the given channel. The cancel
// function unsubscribes and closes the returned channel; it is safe to
// call more than once.
func (b *Bus) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	inbox := make(chan *nats.Msg, 64)
	sub, err := b.nc.ChanSubscribe(channel, inbox)
	if err != nil {
		return nil, nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 64)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-inbox:
				if !ok {
					return
				}
				select {
				case out <- msg.Data:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				slog.Debug("nats unsubscribe failed", "channel", channel, "error", err)
			}
			close(done)
		})
	}
	return out, cancel, nil
}

// KeyValue returns the named JetStream KV bucket, creating it with the
// given per-entry TTL if it does not exist.
func (b *Bus) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := b.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream kv %s: %w", bucket, err)
	}
	return kv, nil
}

// Close shuts down the NATS connection, draining subscriptions first.
func (b *Bus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker is currently connected.
func (b *Bus) IsConnected() bool {
	return b.nc.IsConnected()
}
