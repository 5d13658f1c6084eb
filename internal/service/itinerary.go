package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	votel "github.com/voyago/voyago/internal/adapter/otel"
	"github.com/voyago/voyago/internal/domain"
	"github.com/voyago/voyago/internal/domain/itinerary"
	"github.com/voyago/voyago/internal/port/database"
)

// ItineraryService drives the itinerary lifecycle: generation, the
// single-flight replan cycle, and the progress events both emit. Task
// ids correlate durable state with the streaming subsystem.
type ItineraryService struct {
	store   database.Store
	tracker *ProgressTracker
	metrics *votel.Metrics
	log     *slog.Logger
}

func NewItineraryService(store database.Store, tracker *ProgressTracker, log *slog.Logger) *ItineraryService {
	return &ItineraryService{store: store, tracker: tracker, log: log}
}

// SetMetrics attaches metric instruments. Without them the service runs
// uninstrumented.
func (s *ItineraryService) SetMetrics(m *votel.Metrics) {
	s.metrics = m
}

// Get returns an itinerary by id.
func (s *ItineraryService) Get(ctx context.Context, id string) (*itinerary.Itinerary, error) {
	return s.store.GetItinerary(ctx, id)
}

// GetByTask resolves the itinerary a task belongs to.
func (s *ItineraryService) GetByTask(ctx context.Context, taskID string) (*itinerary.Itinerary, error) {
	return s.store.GetItineraryByTaskID(ctx, taskID)
}

// List returns all itineraries of a user, newest first.
func (s *ItineraryService) List(ctx context.Context, userID string) ([]itinerary.Itinerary, error) {
	return s.store.ListItineraries(ctx, userID)
}

// Create validates and stores a new itinerary. With StartPlanning set,
// generation is kicked off immediately and the task id is returned.
func (s *ItineraryService) Create(ctx context.Context, req itinerary.CreateRequest) (*itinerary.Itinerary, string, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, "", err
	}

	it, err := s.store.CreateItinerary(ctx, req)
	if err != nil {
		return nil, "", err
	}
	s.log.Info("itinerary created", "itinerary_id", it.ID, "user_id", it.UserID)

	if !req.StartPlanning {
		return it, "", nil
	}

	taskID, err := s.StartGeneration(ctx, it.ID)
	if err != nil {
		return nil, "", err
	}
	it, err = s.store.GetItinerary(ctx, it.ID)
	if err != nil {
		return nil, "", err
	}
	return it, taskID, nil
}

// StartGeneration moves the itinerary into processing and returns the
// new task id. Allowed from draft and failed; rejects with ErrConflict
// while a generation is running or after completion.
func (s *ItineraryService) StartGeneration(ctx context.Context, id string) (string, error) {
	taskID := uuid.New().String()
	ctx, span := votel.StartGenerationSpan(ctx, id, taskID)
	defer span.End()

	it, err := s.store.BeginGeneration(ctx, id, taskID)
	if err != nil {
		return "", err
	}
	if s.metrics != nil {
		s.metrics.GenerationsStarted.Add(ctx, 1)
	}

	if err := s.tracker.Queued(ctx, taskID, "Itinerary generation queued"); err != nil {
		s.log.Warn("initial progress write failed", "task_id", taskID, "error", err)
	}
	s.log.Info("generation started", "itinerary_id", it.ID, "task_id", taskID)
	return taskID, nil
}

// StartReplan acquires the single-flight replan lock and returns the
// new task id. Exactly one of any number of concurrent calls wins; the
// rest get ErrReplanInFlight. Itineraries without generated data
// cannot be replanned.
func (s *ItineraryService) StartReplan(ctx context.Context, id string, trig itinerary.ReplanTrigger) (string, error) {
	taskID := uuid.New().String()
	ctx, span := votel.StartReplanSpan(ctx, id, taskID, string(trig.Type))
	defer span.End()

	it, err := s.store.AcquireReplanLock(ctx, id, taskID, trig)
	if err != nil {
		return "", err
	}
	if s.metrics != nil {
		s.metrics.ReplansStarted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("trigger", string(trig.Type)),
		))
	}

	if err := s.tracker.Queued(ctx, taskID, "Replanning queued"); err != nil {
		s.log.Warn("initial progress write failed", "task_id", taskID, "error", err)
	}
	s.log.Info("replan started",
		"itinerary_id", it.ID,
		"task_id", taskID,
		"reason", trig.Reason,
		"trigger_type", trig.Type,
	)
	return taskID, nil
}

// UpdateTaskProgress records an intermediate step reported by a worker.
func (s *ItineraryService) UpdateTaskProgress(ctx context.Context, taskID, step string, pct int, message string) error {
	return s.tracker.Step(ctx, taskID, step, pct, message)
}

// CompleteTask finishes the task's itinerary transition: a generation
// task stores the payload and completes the itinerary, a replan task
// advances the version chain. Stale task ids are rejected with
// ErrConflict.
func (s *ItineraryService) CompleteTask(ctx context.Context, taskID string, data json.RawMessage, changes []string) (*itinerary.Itinerary, error) {
	it, err := s.store.GetItineraryByTaskID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch {
	case it.ReplanTaskID == taskID:
		it, err = s.store.CompleteReplan(ctx, it.ID, data, changes)
		if err != nil {
			return nil, err
		}
		if perr := s.tracker.Completed(ctx, taskID, data, "Replan completed"); perr != nil {
			s.log.Warn("completion progress write failed", "task_id", taskID, "error", perr)
		}
		s.countTask(ctx, "replan", false)
		s.log.Info("replan completed", "itinerary_id", it.ID, "task_id", taskID, "version", it.Version)
		return it, nil

	case it.GenerationTaskID == taskID && it.Status == itinerary.StatusProcessing:
		it, err = s.store.CompleteGeneration(ctx, it.ID, data)
		if err != nil {
			return nil, err
		}
		if perr := s.tracker.Completed(ctx, taskID, data, "Itinerary generated"); perr != nil {
			s.log.Warn("completion progress write failed", "task_id", taskID, "error", perr)
		}
		s.countTask(ctx, "generation", false)
		s.log.Info("generation completed", "itinerary_id", it.ID, "task_id", taskID)
		return it, nil
	}

	return nil, fmt.Errorf("task %s is not active on itinerary %s: %w", taskID, it.ID, domain.ErrConflict)
}

// FailTask records a task failure. A failed generation marks the
// itinerary failed; a failed replan only releases the lock, leaving the
// current version and data untouched.
func (s *ItineraryService) FailTask(ctx context.Context, taskID, msg, errorType string, canRetry bool) (*itinerary.Itinerary, error) {
	it, err := s.store.GetItineraryByTaskID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch {
	case it.ReplanTaskID == taskID:
		it, err = s.store.FailReplan(ctx, it.ID, msg)
		if err != nil {
			return nil, err
		}
		if perr := s.tracker.Failed(ctx, taskID, msg, errorType, canRetry); perr != nil {
			s.log.Warn("failure progress write failed", "task_id", taskID, "error", perr)
		}
		s.countTask(ctx, "replan", true)
		s.log.Warn("replan failed", "itinerary_id", it.ID, "task_id", taskID, "error", msg)
		return it, nil

	case it.GenerationTaskID == taskID && it.Status == itinerary.StatusProcessing:
		it, err = s.store.FailGeneration(ctx, it.ID, msg)
		if err != nil {
			return nil, err
		}
		if perr := s.tracker.Failed(ctx, taskID, msg, errorType, canRetry); perr != nil {
			s.log.Warn("failure progress write failed", "task_id", taskID, "error", perr)
		}
		s.countTask(ctx, "generation", true)
		s.log.Warn("generation failed", "itinerary_id", it.ID, "task_id", taskID, "error", msg)
		return it, nil
	}

	return nil, fmt.Errorf("task %s is not active on itinerary %s: %w", taskID, it.ID, domain.ErrConflict)
}

// countTask records a terminal task outcome when metrics are attached.
func (s *ItineraryService) countTask(ctx context.Context, kind string, failed bool) {
	if s.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if failed {
		s.metrics.TasksFailed.Add(ctx, 1, attrs)
		return
	}
	s.metrics.TasksCompleted.Add(ctx, 1, attrs)
}

func validateCreateRequest(req itinerary.CreateRequest) error {
	switch {
	case req.UserID == "":
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	case req.Title == "":
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	case req.Destination == "":
		return fmt.Errorf("%w: destination is required", domain.ErrValidation)
	case req.StartDate.IsZero() || req.EndDate.IsZero():
		return fmt.Errorf("%w: start_date and end_date are required", domain.ErrValidation)
	case req.EndDate.Before(req.StartDate):
		return fmt.Errorf("%w: end_date before start_date", domain.ErrValidation)
	}
	return nil
}
