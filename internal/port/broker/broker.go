// Package broker defines the pub/sub broker port (interface).
package broker

import "context"

// Broker is the port interface for the shared pub/sub message broker.
// Delivery is ephemeral and at-most-once; the progress snapshot store
// covers missed messages.
type Broker interface {
	// Publish sends a message to the given channel.
	Publish(ctx context.Context, channel string, data []byte) error

	// Subscribe starts receiving messages on the given channel. The
	// returned cancel function unsubscribes and closes the message
	// channel; it must be called on every exit path.
	Subscribe(ctx context.Context, channel string) (msgs <-chan []byte, cancel func(), err error)

	// Close shuts down the broker connection.
	Close() error

	// IsConnected reports whether the broker is currently connected.
	IsConnected() bool
}

// Channel name helpers. One channel per task, user, and itinerary.
const (
	taskUpdatesPrefix     = "task_updates."
	userAlertsPrefix      = "user_alerts."
	itineraryAlertsPrefix = "itinerary_alerts."
)

// TaskUpdates returns the per-task progress channel.
func TaskUpdates(taskID string) string { return taskUpdatesPrefix + taskID }

// UserAlerts returns the per-user alert channel.
func UserAlerts(userID string) string { return userAlertsPrefix + userID }

// ItineraryAlerts returns the per-itinerary alert channel.
func ItineraryAlerts(itineraryID string) string { return itineraryAlertsPrefix + itineraryID }
