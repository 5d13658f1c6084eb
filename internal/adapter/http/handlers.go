package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/voyago/voyago/internal/domain/alert"
	"github.com/voyago/voyago/internal/domain/itinerary"
	"github.com/voyago/voyago/internal/domain/progress"
	"github.com/voyago/voyago/internal/port/progressstore"
	"github.com/voyago/voyago/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Itineraries *service.ItineraryService
	Alerts      *service.AlertPublisher
	Progress    progressstore.Reader
}

// createItineraryResponse wraps the created itinerary with the task id
// when planning was started immediately.
type createItineraryResponse struct {
	Itinerary *itinerary.Itinerary `json:"itinerary"`
	TaskID    string               `json:"task_id,omitempty"`
}

// CreateItinerary creates a new itinerary, optionally kicking off
// generation in the same request.
func (h *Handlers) CreateItinerary(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[itinerary.CreateRequest](w, r)
	if !ok {
		return
	}

	it, taskID, err := h.Itineraries.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "itinerary not found")
		return
	}
	writeJSON(w, http.StatusCreated, createItineraryResponse{Itinerary: it, TaskID: taskID})
}

// GetItinerary returns one itinerary by id.
func (h *Handlers) GetItinerary(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	it, err := h.Itineraries.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "itinerary not found")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// ListItineraries returns all itineraries of the user given in the
// user_id query parameter.
func (h *Handlers) ListItineraries(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}

	items, err := h.Itineraries.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, "itineraries not found")
		return
	}
	if items == nil {
		items = []itinerary.Itinerary{}
	}
	writeJSON(w, http.StatusOK, items)
}

type versionSummary struct {
	Version      int       `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
	Reason       string    `json:"reason"`
	ChangesCount int       `json:"changes_count"`
}

type versionHistoryResponse struct {
	ItineraryID    string           `json:"itinerary_id"`
	CurrentVersion int              `json:"current_version"`
	Versions       []versionSummary `json:"versions"`
	LastReplanAt   *time.Time       `json:"last_replan_at,omitempty"`
}

// GetVersionHistory returns the replan version chain of an itinerary.
// Only the last entries up to the retention cap exist.
func (h *Handlers) GetVersionHistory(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	it, err := h.Itineraries.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "itinerary not found")
		return
	}

	versions := make([]versionSummary, 0, len(it.VersionHistory))
	for _, v := range it.VersionHistory {
		versions = append(versions, versionSummary{
			Version:      v.Version,
			Timestamp:    v.Timestamp,
			Reason:       v.Reason,
			ChangesCount: len(v.Changes),
		})
	}
	writeJSON(w, http.StatusOK, versionHistoryResponse{
		ItineraryID:    it.ID,
		CurrentVersion: it.Version,
		Versions:       versions,
		LastReplanAt:   it.LastReplanAt,
	})
}

type taskStartedResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// StartGeneration begins AI generation for a draft or failed itinerary.
func (h *Handlers) StartGeneration(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	taskID, err := h.Itineraries.StartGeneration(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "itinerary not found")
		return
	}
	writeJSON(w, http.StatusAccepted, taskStartedResponse{TaskID: taskID, Status: "processing"})
}

type replanRequest struct {
	Reason         itinerary.Reason      `json:"reason"`
	TriggerType    itinerary.TriggerType `json:"trigger_type"`
	TriggerDetails string                `json:"trigger_details,omitempty"`
}

// StartReplan acquires the replan lock and begins replanning. Concurrent
// requests race; the losers receive 409.
func (h *Handlers) StartReplan(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[replanRequest](w, r)
	if !ok {
		return
	}
	if req.Reason == "" {
		req.Reason = itinerary.ReasonUserInitiated
	}
	if req.TriggerType == "" {
		req.TriggerType = itinerary.TriggerUserRequest
	}

	taskID, err := h.Itineraries.StartReplan(r.Context(), id, itinerary.ReplanTrigger{
		Reason:  req.Reason,
		Type:    req.TriggerType,
		Details: req.TriggerDetails,
	})
	if err != nil {
		writeDomainError(w, err, "itinerary not found")
		return
	}
	writeJSON(w, http.StatusAccepted, taskStartedResponse{TaskID: taskID, Status: "replanning"})
}

// GetTaskStatus returns the last-known progress snapshot for a task, the
// polling counterpart of the streaming endpoint.
func (h *Handlers) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "taskID")
	snap, err := h.Progress.Get(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListActiveTasks returns the snapshots of all tasks still running, the
// dashboard view of the progress bucket.
func (h *Handlers) ListActiveTasks(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.Progress.Active(r.Context())
	if err != nil {
		writeDomainError(w, err, "tasks not found")
		return
	}
	if snaps == nil {
		snaps = []progress.TaskProgress{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

type taskProgressRequest struct {
	Step     string `json:"step"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// ReportTaskProgress records an intermediate step reported by a worker.
func (h *Handlers) ReportTaskProgress(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "taskID")
	req, ok := readJSON[taskProgressRequest](w, r)
	if !ok {
		return
	}

	err := h.Itineraries.UpdateTaskProgress(r.Context(), taskID, req.Step, req.Progress, req.Message)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type taskCompleteRequest struct {
	Data    json.RawMessage `json:"data"`
	Changes []string        `json:"changes,omitempty"`
}

// CompleteTask finishes a generation or replan task with its payload.
func (h *Handlers) CompleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "taskID")
	req, ok := readJSON[taskCompleteRequest](w, r)
	if !ok {
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}

	it, err := h.Itineraries.CompleteTask(r.Context(), taskID, req.Data, req.Changes)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type taskFailRequest struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
	CanRetry  bool   `json:"can_retry"`
}

// FailTask records a task failure reported by a worker.
func (h *Handlers) FailTask(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "taskID")
	req, ok := readJSON[taskFailRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Error, "error") {
		return
	}

	it, err := h.Itineraries.FailTask(r.Context(), taskID, req.Error, req.ErrorType, req.CanRetry)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type publishAlertRequest struct {
	UserID string `json:"user_id,omitempty"`
	alert.Alert
}

// PublishAlert fans a proactive alert out to the itinerary channel and,
// when a user id is given, the user channel.
func (h *Handlers) PublishAlert(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[publishAlertRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.ItineraryID, "itinerary_id") {
		return
	}

	if err := h.Alerts.Publish(r.Context(), req.UserID, req.Alert); err != nil {
		writeDomainError(w, err, "itinerary not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Health reports liveness. It never touches downstream dependencies so a
// broker outage does not flap the probe.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
