// Package itinerary defines the Itinerary domain entity and its
// lifecycle/versioning state machine.
package itinerary

import (
	"encoding/json"
	"time"

	"github.com/voyago/voyago/internal/domain"
)

// Status represents the generation state of an itinerary.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusProcessing Status = "processing" // AI generation or replan running
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// TriggerType is the kind of event that initiated a replan.
type TriggerType string

const (
	TriggerWeather        TriggerType = "weather"
	TriggerTraffic        TriggerType = "traffic"
	TriggerCrowd          TriggerType = "crowd"
	TriggerUserRequest    TriggerType = "user_request"
	TriggerScheduleChange TriggerType = "schedule_change"
	TriggerVenueClosure   TriggerType = "venue_closure"
)

// Reason categorizes who initiated a replan.
type Reason string

const (
	ReasonUserInitiated   Reason = "user_initiated"
	ReasonSystemProactive Reason = "system_proactive"
)

// ReplanTrigger carries the context of a replan request.
type ReplanTrigger struct {
	Reason  Reason      `json:"reason"`
	Type    TriggerType `json:"trigger_type"`
	Details string      `json:"trigger_details,omitempty"`
}

// MaxVersionHistory caps the number of retained version snapshots.
// Eviction is FIFO by age.
const MaxVersionHistory = 10

// VersionEntry is one snapshot in the version history. Version is the
// version produced by the replan; Data holds the superseded payload so
// the chain stays traceable with the mutate-in-place row model.
type VersionEntry struct {
	Version   int             `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason"`
	Changes   []string        `json:"changes"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Itinerary represents a travel plan and its generation/replan state.
type Itinerary struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Destination string    `json:"destination"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Status      Status    `json:"status"`

	OriginalPrompt   string          `json:"original_prompt,omitempty"`
	GenerationTaskID string          `json:"generation_task_id,omitempty"`
	Data             json.RawMessage `json:"data,omitempty"` // present iff a generation has completed
	GenerationError  string          `json:"generation_error,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`

	Version           int            `json:"version"`
	VersionHistory    []VersionEntry `json:"version_history"`
	LastReplanAt      *time.Time     `json:"last_replan_at,omitempty"`
	ReplanTaskID      string         `json:"replan_task_id,omitempty"` // non-empty iff a replan is in flight
	LastReplanError   string         `json:"last_replan_error,omitempty"`
	PreviousVersionID string         `json:"previous_version_id,omitempty"`

	ReplanReason         Reason      `json:"replan_reason,omitempty"`
	ReplanTriggerType    TriggerType `json:"replan_trigger_type,omitempty"`
	ReplanTriggerDetails string      `json:"replan_trigger_details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new itinerary.
type CreateRequest struct {
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	Destination   string    `json:"destination"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	Prompt        string    `json:"prompt,omitempty"`
	StartPlanning bool      `json:"start_planning"` // kick off generation immediately
}

// BeginGeneration moves the itinerary into processing and records the
// task correlation id. Allowed from draft and from failed (retry);
// processing and completed reject with ErrConflict.
func (i *Itinerary) BeginGeneration(taskID string, now time.Time) error {
	if i.Status != StatusDraft && i.Status != StatusFailed {
		return domain.ErrConflict
	}
	i.Status = StatusProcessing
	i.GenerationTaskID = taskID
	i.GenerationError = ""
	i.UpdatedAt = now
	return nil
}

// CompleteGeneration stores the generated payload and marks the
// itinerary completed. Requires processing.
func (i *Itinerary) CompleteGeneration(data json.RawMessage, now time.Time) error {
	if i.Status != StatusProcessing {
		return domain.ErrConflict
	}
	i.Status = StatusCompleted
	i.Data = data
	i.GenerationError = ""
	i.CompletedAt = &now
	i.UpdatedAt = now
	return nil
}

// FailGeneration marks the itinerary failed. Data is left untouched so a
// prior successful version survives. Requires processing.
func (i *Itinerary) FailGeneration(msg string, now time.Time) error {
	if i.Status != StatusProcessing {
		return domain.ErrConflict
	}
	i.Status = StatusFailed
	i.GenerationError = msg
	i.UpdatedAt = now
	return nil
}

// BeginReplan acquires the single-flight replan lock and records the
// trigger. The persistent store must apply this check-and-set
// atomically; this method encodes the guards for in-memory use.
func (i *Itinerary) BeginReplan(taskID string, trig ReplanTrigger, now time.Time) error {
	if i.ReplanTaskID != "" {
		return domain.ErrReplanInFlight
	}
	if len(i.Data) == 0 {
		return domain.ErrNoData
	}
	i.ReplanTaskID = taskID
	i.ReplanReason = trig.Reason
	i.ReplanTriggerType = trig.Type
	i.ReplanTriggerDetails = trig.Details
	i.LastReplanAt = &now
	i.LastReplanError = ""
	i.UpdatedAt = now
	return nil
}

// CompleteReplan releases the lock, increments the version, appends the
// history entry (evicting the oldest beyond MaxVersionHistory) and
// replaces the payload. Version and history change together.
func (i *Itinerary) CompleteReplan(newData json.RawMessage, changes []string, now time.Time) error {
	if i.ReplanTaskID == "" {
		return domain.ErrConflict
	}
	previous := i.Data
	i.Version++
	entry := VersionEntry{
		Version:   i.Version,
		Timestamp: now,
		Reason:    "replan",
		Changes:   changes,
		Data:      previous,
	}
	i.VersionHistory = append(i.VersionHistory, entry)
	if len(i.VersionHistory) > MaxVersionHistory {
		i.VersionHistory = i.VersionHistory[len(i.VersionHistory)-MaxVersionHistory:]
	}
	i.Data = newData
	i.ReplanTaskID = ""
	i.UpdatedAt = now
	return nil
}

// FailReplan releases the lock only. Version and Data are unchanged, and
// the trigger fields stay in place for audit. The error is recorded
// separately from GenerationError.
func (i *Itinerary) FailReplan(msg string, now time.Time) error {
	if i.ReplanTaskID == "" {
		return domain.ErrConflict
	}
	i.ReplanTaskID = ""
	i.LastReplanError = msg
	i.UpdatedAt = now
	return nil
}
