package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voyago/voyago/internal/domain"
	"github.com/voyago/voyago/internal/domain/itinerary"
	"github.com/voyago/voyago/internal/domain/progress"
	"github.com/voyago/voyago/internal/port/broker"
)

type itineraryFixture struct {
	svc    *ItineraryService
	store  *fakeItineraryStore
	snaps  *fakeSnapshotStore
	broker *fakeBroker
}

func newItineraryFixture() *itineraryFixture {
	store := newFakeItineraryStore()
	snaps := newFakeSnapshotStore()
	b := newFakeBroker()
	tracker := NewProgressTracker(snaps, b, discardLogger())
	return &itineraryFixture{
		svc:    NewItineraryService(store, tracker, discardLogger()),
		store:  store,
		snaps:  snaps,
		broker: b,
	}
}

func validCreateRequest() itinerary.CreateRequest {
	return itinerary.CreateRequest{
		UserID:      "u1",
		Title:       "Lisbon in spring",
		Destination: "Lisbon",
		StartDate:   time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2026, 4, 17, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateValidation(t *testing.T) {
	f := newItineraryFixture()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*itinerary.CreateRequest)
	}{
		{"missing user", func(r *itinerary.CreateRequest) { r.UserID = "" }},
		{"missing title", func(r *itinerary.CreateRequest) { r.Title = "" }},
		{"missing destination", func(r *itinerary.CreateRequest) { r.Destination = "" }},
		{"zero dates", func(r *itinerary.CreateRequest) { r.StartDate = time.Time{} }},
		{"end before start", func(r *itinerary.CreateRequest) {
			r.EndDate = r.StartDate.Add(-24 * time.Hour)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(&req)
			if _, _, err := f.svc.Create(ctx, req); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCreateDraft(t *testing.T) {
	f := newItineraryFixture()

	it, taskID, err := f.svc.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if it.Status != itinerary.StatusDraft {
		t.Fatalf("status = %s, want draft", it.Status)
	}
	if taskID != "" {
		t.Fatalf("expected no task for a draft, got %q", taskID)
	}
	if it.Version != 1 {
		t.Fatalf("version = %d, want 1", it.Version)
	}
}

func TestCreateWithStartPlanning(t *testing.T) {
	f := newItineraryFixture()
	req := validCreateRequest()
	req.StartPlanning = true

	it, taskID, err := f.svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if it.Status != itinerary.StatusProcessing {
		t.Fatalf("status = %s, want processing", it.Status)
	}
	if taskID == "" {
		t.Fatal("expected a generation task id")
	}
	if it.GenerationTaskID != taskID {
		t.Fatalf("itinerary carries task %q, returned %q", it.GenerationTaskID, taskID)
	}

	// The pending snapshot and its broadcast exist before any client connects.
	snap, ok := f.snaps.get(taskID)
	if !ok {
		t.Fatal("expected initial snapshot")
	}
	if snap.Status != progress.StatusPending {
		t.Fatalf("snapshot status = %s, want pending", snap.Status)
	}
	if msgs := f.broker.published(broker.TaskUpdates(taskID)); len(msgs) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(msgs))
	}
}

func TestGenerationRoundTrip(t *testing.T) {
	f := newItineraryFixture()
	ctx := context.Background()

	it, _, err := f.svc.Create(ctx, validCreateRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	taskID, err := f.svc.StartGeneration(ctx, it.ID)
	if err != nil {
		t.Fatalf("start generation: %v", err)
	}

	if err := f.svc.UpdateTaskProgress(ctx, taskID, progress.StepSearchingFlights, 35, "Searching flights"); err != nil {
		t.Fatalf("progress: %v", err)
	}

	data := json.RawMessage(`{"days":[{"city":"Lisbon"}]}`)
	done, err := f.svc.CompleteTask(ctx, taskID, data, nil)
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if done.Status != itinerary.StatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}
	if done.CompletedAt == nil {
		t.Fatal("expected completed_at set")
	}

	snap, _ := f.snaps.get(taskID)
	if snap.Status != progress.StatusCompleted || snap.Progress != 100 {
		t.Fatalf("final snapshot = %+v", snap)
	}

	// Three broadcasts: queued, step, completed.
	if msgs := f.broker.published(broker.TaskUpdates(taskID)); len(msgs) != 3 {
		t.Fatalf("expected 3 broadcasts, got %d", len(msgs))
	}
}

func TestFailedGenerationCanRetry(t *testing.T) {
	f := newItineraryFixture()
	ctx := context.Background()

	it, _, _ := f.svc.Create(ctx, validCreateRequest())
	taskID, _ := f.svc.StartGeneration(ctx, it.ID)

	failed, err := f.svc.FailTask(ctx, taskID, "llm timeout", "timeout", true)
	if err != nil {
		t.Fatalf("fail task: %v", err)
	}
	if failed.Status != itinerary.StatusFailed {
		t.Fatalf("status = %s, want failed", failed.Status)
	}
	if failed.GenerationError != "llm timeout" {
		t.Fatalf("generation error = %q", failed.GenerationError)
	}

	// Failed itineraries accept a retry.
	if _, err := f.svc.StartGeneration(ctx, it.ID); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestStartGenerationConflicts(t *testing.T) {
	f := newItineraryFixture()
	ctx := context.Background()

	it, _, _ := f.svc.Create(ctx, validCreateRequest())
	if _, err := f.svc.StartGeneration(ctx, it.ID); err != nil {
		t.Fatalf("start generation: %v", err)
	}
	if _, err := f.svc.StartGeneration(ctx, it.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict while processing, got %v", err)
	}
}

// completedItinerary creates an itinerary and walks it through a
// successful generation.
func completedItinerary(t *testing.T, f *itineraryFixture) *itinerary.Itinerary {
	t.Helper()
	ctx := context.Background()
	it, _, err := f.svc.Create(ctx, validCreateRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	taskID, err := f.svc.StartGeneration(ctx, it.ID)
	if err != nil {
		t.Fatalf("start generation: %v", err)
	}
	done, err := f.svc.CompleteTask(ctx, taskID, json.RawMessage(`{"days":[]}`), nil)
	if err != nil {
		t.Fatalf("complete generation: %v", err)
	}
	return done
}

func TestReplanRoundTrip(t *testing.T) {
	f := newItineraryFixture()
	ctx := context.Background()
	it := completedItinerary(t, f)

	trig := itinerary.ReplanTrigger{
		Reason:  itinerary.ReasonSystemProactive,
		Type:    itinerary.TriggerWeather,
		Details: "heavy rain on day 2",
	}
	taskID, err := f.svc.StartReplan(ctx, it.ID, trig)
	if err != nil {
		t.Fatalf("start replan: %v", err)
	}

	done, err := f.svc.CompleteTask(ctx, taskID, json.RawMessage(`{"days":[{"city":"Sintra"}]}`), []string{"moved day 2 indoors"})
	if err != nil {
		t.Fatalf("complete replan: %v", err)
	}
	if done.Version != 2 {
		t.Fatalf("version = %d, want 2", done.Version)
	}
	if len(done.VersionHistory) != 1 || done.VersionHistory[0].Version != 2 {
		t.Fatalf("history = %+v", done.VersionHistory)
	}
	if done.ReplanTaskID != "" {
		t.Fatal("expected replan lock released")
	}
	if done.ReplanTriggerType != itinerary.TriggerWeather {
		t.Fatalf("trigger = %s", done.ReplanTriggerType)
	}
}

func TestReplanRequiresData(t *testing.T) {
	f := newItineraryFixture()
	ctx := context.Background()

	it, _, _ := f.svc.Create(ctx, validCreateRequest())
	_, err := f.svc.StartReplan(ctx, it.ID, itinerary.ReplanTrigger{Reason: itinerary.ReasonUserInitiated, Type: itinerary.TriggerUserRequest})
	if !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestReplanSingleFlight(t *testing.T) {
	f := newItineraryFixture()
	ctx := context.Background()
	it := completedItinerary(t, f)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.StartReplan(ctx, it.ID, itinerary.ReplanTrigger{
				Reason: itinerary.ReasonUserInitiated,
				Type:   itinerary.TriggerUserRequest,
			})
		}()
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrReplanInFlight):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly 1 lock winner, got %d", won)
	}
}

func TestFailedReplanPreservesCurrentVersion(t *testing.T) {
	f := newItineraryFixture()
	ctx := context.Background()
	it := completedItinerary(t, f)

	taskID, err := f.svc.StartReplan(ctx, it.ID, itinerary.ReplanTrigger{
		Reason: itinerary.ReasonSystemProactive,
		Type:   itinerary.TriggerTraffic,
	})
	if err != nil {
		t.Fatalf("start replan: %v", err)
	}

	failed, err := f.svc.FailTask(ctx, taskID, "routing api down", "network_error", true)
	if err != nil {
		t.Fatalf("fail replan: %v", err)
	}
	if failed.Version != 1 {
		t.Fatalf("version = %d, want unchanged 1", failed.Version)
	}
	if len(failed.Data) == 0 {
		t.Fatal("data must survive a failed replan")
	}
	if failed.LastReplanError != "routing api down" {
		t.Fatalf("last replan error = %q", failed.LastReplanError)
	}
	if failed.Status != itinerary.StatusCompleted {
		t.Fatalf("status = %s, want completed", failed.Status)
	}

	// The lock is free again.
	if _, err := f.svc.StartReplan(ctx, it.ID, itinerary.ReplanTrigger{
		Reason: itinerary.ReasonUserInitiated,
		Type:   itinerary.TriggerUserRequest,
	}); err != nil {
		t.Fatalf("replan after failed replan: %v", err)
	}
}

func TestCompleteTaskRejectsStaleTask(t *testing.T) {
	f := newItineraryFixture()
	ctx := context.Background()

	it, _, _ := f.svc.Create(ctx, validCreateRequest())
	taskID, _ := f.svc.StartGeneration(ctx, it.ID)
	if _, err := f.svc.CompleteTask(ctx, taskID, json.RawMessage(`{}`), nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Re-reporting the finished generation task is a conflict.
	if _, err := f.svc.CompleteTask(ctx, taskID, json.RawMessage(`{}`), nil); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Unknown task ids are not found.
	if _, err := f.svc.CompleteTask(ctx, "nope", json.RawMessage(`{}`), nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVersionHistoryCapThroughService(t *testing.T) {
	f := newItineraryFixture()
	ctx := context.Background()
	it := completedItinerary(t, f)

	for i := 0; i < itinerary.MaxVersionHistory+5; i++ {
		taskID, err := f.svc.StartReplan(ctx, it.ID, itinerary.ReplanTrigger{
			Reason: itinerary.ReasonUserInitiated,
			Type:   itinerary.TriggerUserRequest,
		})
		if err != nil {
			t.Fatalf("replan %d: %v", i, err)
		}
		if _, err := f.svc.CompleteTask(ctx, taskID, json.RawMessage(`{"days":[]}`), nil); err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
	}

	got, err := f.svc.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 1+itinerary.MaxVersionHistory+5 {
		t.Fatalf("version = %d", got.Version)
	}
	if len(got.VersionHistory) != itinerary.MaxVersionHistory {
		t.Fatalf("history length = %d, want %d", len(got.VersionHistory), itinerary.MaxVersionHistory)
	}
	if got.VersionHistory[len(got.VersionHistory)-1].Version != got.Version {
		t.Fatal("newest history entry must match current version")
	}
}
