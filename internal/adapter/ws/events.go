package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/voyago/voyago/internal/domain/progress"
)

// Outbound frame types.
const (
	TypeConnected     = "connected"
	TypeProgress      = "progress"
	TypeCompleted     = "completed"
	TypeFailed        = "failed"
	TypePing          = "ping"
	TypeError         = "error"
	TypeSubscribed    = "subscribed"
	TypeUnsubscribed  = "unsubscribed"
	TypeBatchProgress = "batch_progress"
	TypeAlert         = "alert"
)

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

type connectedEvent struct {
	Type        string                 `json:"type"`
	Data        *progress.TaskProgress `json:"data,omitempty"`
	Message     string                 `json:"message"`
	UserID      string                 `json:"user_id,omitempty"`
	ItineraryID string                 `json:"itinerary_id,omitempty"`
	Timestamp   string                 `json:"timestamp"`
}

func newConnectedEvent(snap *progress.TaskProgress, message string) connectedEvent {
	return connectedEvent{Type: TypeConnected, Data: snap, Message: message, Timestamp: timestamp()}
}

// pendingSnapshot is the placeholder sent when no snapshot exists yet:
// the task may not have started, or the id may be unknown.
func pendingSnapshot(taskID string) *progress.TaskProgress {
	return &progress.TaskProgress{
		TaskID:  taskID,
		Status:  progress.StatusPending,
		Message: "Waiting for task to start...",
	}
}

type progressEvent struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

type completedEvent struct {
	Type            string              `json:"type"`
	Data            json.RawMessage     `json:"data"`
	HasFallbackData bool                `json:"has_fallback_data"`
	APIErrors       []progress.APIError `json:"api_errors"`
	Message         string              `json:"message"`
	Timestamp       string              `json:"timestamp"`
}

type failedEvent struct {
	Type            string              `json:"type"`
	Data            json.RawMessage     `json:"data"`
	Error           string              `json:"error,omitempty"`
	ErrorType       string              `json:"error_type"`
	CanRetry        bool                `json:"can_retry"`
	RetryAfter      int                 `json:"retry_after,omitempty"`
	APIErrors       []progress.APIError `json:"api_errors"`
	HasFallbackData bool                `json:"has_fallback_data"`
	Message         string              `json:"message"`
	Timestamp       string              `json:"timestamp"`
}

// finalEvent is sent when a client connects to an already-finished
// task: the frame type is the terminal status itself.
type finalEvent struct {
	Type      string                 `json:"type"`
	Data      *progress.TaskProgress `json:"data"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
}

func newFinalEvent(snap *progress.TaskProgress) finalEvent {
	return finalEvent{
		Type:      string(snap.Status),
		Data:      snap,
		Message:   fmt.Sprintf("Task already %s", snap.Status),
		Timestamp: timestamp(),
	}
}

type pingEvent struct {
	Type      string                 `json:"type"`
	Data      *progress.TaskProgress `json:"data"`
	Timestamp string                 `json:"timestamp"`
}

type errorEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func newErrorEvent(message string) errorEvent {
	return errorEvent{Type: TypeError, Message: message, Timestamp: timestamp()}
}

type subscribedEvent struct {
	Type      string   `json:"type"`
	TaskIDs   []string `json:"task_ids"`
	Timestamp string   `json:"timestamp"`
}

type unsubscribedEvent struct {
	Type      string   `json:"type"`
	TaskIDs   []string `json:"task_ids"`
	Remaining []string `json:"remaining"`
	Timestamp string   `json:"timestamp"`
}

type batchProgressEvent struct {
	Type      string                  `json:"type"`
	Data      []progress.TaskProgress `json:"data"`
	Timestamp string                  `json:"timestamp"`
}

type alertEvent struct {
	Type      string          `json:"type"`
	AlertType string          `json:"alert_type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// newAlertEvent wraps a published alert payload, surfacing its
// alert_type (defaulting to "general") on the envelope.
func newAlertEvent(raw []byte) alertEvent {
	var peek struct {
		AlertType string `json:"alert_type"`
	}
	_ = json.Unmarshal(raw, &peek)
	if peek.AlertType == "" {
		peek.AlertType = "general"
	}
	return alertEvent{Type: TypeAlert, AlertType: peek.AlertType, Data: raw, Timestamp: timestamp()}
}

// envelopeFor classifies one raw progress message by status and builds
// the outbound frame. Terminal reports whether the stream should end
// after this frame. Completed and failed frames carry the retry and
// fallback fields with their documented defaults.
func envelopeFor(raw []byte) (frame []byte, terminal bool, err error) {
	var snap progress.TaskProgress
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false, fmt.Errorf("decode progress message: %w", err)
	}

	var event any
	switch snap.Status {
	case progress.StatusFailed:
		event = failedEvent{
			Type:            TypeFailed,
			Data:            raw,
			Error:           snap.Error,
			ErrorType:       orDefault(snap.ErrorType, "unknown"),
			CanRetry:        snap.CanRetry,
			RetryAfter:      snap.RetryAfter,
			APIErrors:       orEmpty(snap.APIErrors),
			HasFallbackData: snap.HasFallbackData,
			Message:         orDefault(snap.Message, "Task failed"),
			Timestamp:       timestamp(),
		}
	case progress.StatusCompleted:
		event = completedEvent{
			Type:            TypeCompleted,
			Data:            raw,
			HasFallbackData: snap.HasFallbackData,
			APIErrors:       orEmpty(snap.APIErrors),
			Message:         orDefault(snap.Message, "Task completed"),
			Timestamp:       timestamp(),
		}
	default:
		// Cancelled ends the stream but carries no extra fields.
		event = progressEvent{Type: TypeProgress, Data: raw, Timestamp: timestamp()}
	}

	frame, err = json.Marshal(event)
	if err != nil {
		return nil, false, fmt.Errorf("encode frame: %w", err)
	}
	return frame, snap.Status.Terminal(), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orEmpty(errs []progress.APIError) []progress.APIError {
	if errs == nil {
		return []progress.APIError{}
	}
	return errs
}
