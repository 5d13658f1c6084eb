// Package progress defines the task progress snapshot model shared by the
// job producers and the streaming subsystem.
package progress

import (
	"encoding/json"
	"time"
)

// Status represents the execution state of a background task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStarted   Status = "started"
	StatusProgress  Status = "progress"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRetrying  Status = "retrying"
)

// Terminal reports whether no further transitions or events follow.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusPending, StatusStarted, StatusProgress, StatusRetrying:
		return false
	}
	return false
}

// Generation pipeline steps reported by the itinerary workers.
const (
	StepInitializing         = "initializing"
	StepValidating           = "validating"
	StepExtractingParams     = "extracting_params"
	StepSearchingFlights     = "searching_flights"
	StepSearchingHotels      = "searching_hotels"
	StepCheckingWeather      = "checking_weather"
	StepFetchingAttractions  = "fetching_attractions"
	StepAnalyzingPreferences = "analyzing_preferences"
	StepGeneratingPlan       = "generating_plan"
	StepOptimizingRoute      = "optimizing_route"
	StepSavingItinerary      = "saving_itinerary"
	StepCompleted            = "completed"
	StepFailed               = "failed"
)

// APIError describes a failure from one upstream travel API during a task.
type APIError struct {
	API     string `json:"api"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// TaskProgress is the last-known status snapshot of a background task.
// The job producer overwrites it on every step; the streaming subsystem
// only reads it.
type TaskProgress struct {
	TaskID          string          `json:"task_id"`
	Status          Status          `json:"status"`
	Step            string          `json:"step"`
	Progress        int             `json:"progress"` // 0-100
	Message         string          `json:"message"`
	Data            json.RawMessage `json:"data,omitempty"`
	Error           string          `json:"error,omitempty"`
	ErrorType       string          `json:"error_type,omitempty"` // rate_limit, timeout, network_error, ...
	ErrorCode       string          `json:"error_code,omitempty"`
	CanRetry        bool            `json:"can_retry"`
	RetryAfter      int             `json:"retry_after,omitempty"` // seconds
	APIErrors       []APIError      `json:"api_errors"`
	HasFallbackData bool            `json:"has_fallback_data"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
