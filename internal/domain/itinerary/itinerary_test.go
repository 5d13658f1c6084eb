package itinerary

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/voyago/voyago/internal/domain"
)

func completedItinerary() *Itinerary {
	now := time.Now().UTC()
	return &Itinerary{
		ID:        "itn-1",
		UserID:    "user-1",
		Status:    StatusCompleted,
		Data:      json.RawMessage(`{"days":[1,2,3]}`),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestBeginGeneration(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		status  Status
		wantErr error
	}{
		{"from draft", StatusDraft, nil},
		{"retry from failed", StatusFailed, nil},
		{"rejects processing", StatusProcessing, domain.ErrConflict},
		{"rejects completed", StatusCompleted, domain.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := &Itinerary{Status: tt.status, GenerationError: "old"}
			err := it.BeginGeneration("task-1", now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("BeginGeneration: got %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if it.Status != StatusProcessing {
				t.Fatalf("status = %s, want processing", it.Status)
			}
			if it.GenerationTaskID != "task-1" {
				t.Fatalf("task id = %q", it.GenerationTaskID)
			}
			if it.GenerationError != "" {
				t.Fatal("generation error not cleared")
			}
		})
	}
}

func TestCompleteGenerationRequiresProcessing(t *testing.T) {
	it := &Itinerary{Status: StatusDraft}
	if err := it.CompleteGeneration(json.RawMessage(`{}`), time.Now()); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	it.Status = StatusProcessing
	if err := it.CompleteGeneration(json.RawMessage(`{"ok":true}`), time.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if it.Status != StatusCompleted || it.Data == nil || it.CompletedAt == nil {
		t.Fatalf("completed invariant violated: %+v", it)
	}
}

func TestFailGenerationPreservesData(t *testing.T) {
	it := completedItinerary()
	it.Status = StatusProcessing // replanned generation re-run

	if err := it.FailGeneration("provider timeout", time.Now()); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if it.Status != StatusFailed {
		t.Fatalf("status = %s", it.Status)
	}
	if it.GenerationError == "" {
		t.Fatal("failed itinerary must carry generation_error")
	}
	if string(it.Data) != `{"days":[1,2,3]}` {
		t.Fatal("failure must not destroy last-good data")
	}
}

func TestBeginReplanGuards(t *testing.T) {
	now := time.Now().UTC()

	t.Run("no data", func(t *testing.T) {
		it := &Itinerary{Status: StatusDraft}
		if err := it.BeginReplan("t", ReplanTrigger{}, now); !errors.Is(err, domain.ErrNoData) {
			t.Fatalf("got %v, want ErrNoData", err)
		}
	})

	t.Run("already in flight", func(t *testing.T) {
		it := completedItinerary()
		it.ReplanTaskID = "t-old"
		if err := it.BeginReplan("t-new", ReplanTrigger{}, now); !errors.Is(err, domain.ErrReplanInFlight) {
			t.Fatalf("got %v, want ErrReplanInFlight", err)
		}
		if it.ReplanTaskID != "t-old" {
			t.Fatal("lock must not be overwritten")
		}
	})

	t.Run("acquires lock", func(t *testing.T) {
		it := completedItinerary()
		trig := ReplanTrigger{Reason: ReasonSystemProactive, Type: TriggerWeather, Details: "heavy rain"}
		if err := it.BeginReplan("t-1", trig, now); err != nil {
			t.Fatalf("begin: %v", err)
		}
		if it.Status != StatusCompleted {
			t.Fatalf("status changed to %s, want completed", it.Status)
		}
		if it.ReplanTaskID != "t-1" || it.LastReplanAt == nil {
			t.Fatalf("lock not recorded: %+v", it)
		}
		if it.ReplanTriggerType != TriggerWeather || it.ReplanTriggerDetails != "heavy rain" {
			t.Fatalf("trigger not recorded: %+v", it)
		}
	})
}

func TestCompleteReplanScenario(t *testing.T) {
	now := time.Now().UTC()
	it := completedItinerary()

	if err := it.BeginReplan("t-1", ReplanTrigger{Reason: ReasonSystemProactive, Type: TriggerWeather}, now); err != nil {
		t.Fatalf("begin: %v", err)
	}
	newData := json.RawMessage(`{"days":[1,2,3],"swapped":true}`)
	if err := it.CompleteReplan(newData, []string{"swap activity X"}, now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if it.Version != 2 {
		t.Fatalf("version = %d, want 2", it.Version)
	}
	if it.ReplanTaskID != "" {
		t.Fatal("lock not cleared")
	}
	if string(it.Data) != string(newData) {
		t.Fatal("data not replaced")
	}
	if len(it.VersionHistory) != 1 {
		t.Fatalf("history len = %d, want 1", len(it.VersionHistory))
	}
	entry := it.VersionHistory[0]
	if entry.Version != 2 || len(entry.Changes) != 1 || entry.Changes[0] != "swap activity X" {
		t.Fatalf("unexpected history entry: %+v", entry)
	}
	if string(entry.Data) != `{"days":[1,2,3]}` {
		t.Fatal("history entry must carry the superseded payload")
	}
}

func TestVersionHistoryCap(t *testing.T) {
	now := time.Now().UTC()
	it := completedItinerary()

	for n := 1; n <= 15; n++ {
		if err := it.BeginReplan(fmt.Sprintf("t-%d", n), ReplanTrigger{Type: TriggerUserRequest}, now); err != nil {
			t.Fatalf("begin #%d: %v", n, err)
		}
		data := json.RawMessage(fmt.Sprintf(`{"rev":%d}`, n))
		if err := it.CompleteReplan(data, []string{fmt.Sprintf("change %d", n)}, now); err != nil {
			t.Fatalf("complete #%d: %v", n, err)
		}
	}

	if it.Version != 16 {
		t.Fatalf("version = %d, want 16", it.Version)
	}
	if len(it.VersionHistory) != MaxVersionHistory {
		t.Fatalf("history len = %d, want %d", len(it.VersionHistory), MaxVersionHistory)
	}
	// Replan #6 produced version 7; it must be the oldest survivor.
	if got := it.VersionHistory[0].Version; got != 7 {
		t.Fatalf("oldest entry version = %d, want 7", got)
	}
	if got := it.VersionHistory[len(it.VersionHistory)-1].Version; got != 16 {
		t.Fatalf("newest entry version = %d, want 16", got)
	}
}

func TestFailReplanLeavesVersionAndData(t *testing.T) {
	now := time.Now().UTC()
	it := completedItinerary()
	it.GenerationError = ""

	if err := it.BeginReplan("t-1", ReplanTrigger{Type: TriggerTraffic, Details: "road closed"}, now); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := it.FailReplan("replanner crashed", now); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if it.Version != 1 {
		t.Fatalf("version changed on failed replan: %d", it.Version)
	}
	if string(it.Data) != `{"days":[1,2,3]}` {
		t.Fatal("failed replan nulled out data")
	}
	if it.ReplanTaskID != "" {
		t.Fatal("lock not cleared")
	}
	if it.LastReplanError != "replanner crashed" {
		t.Fatalf("last_replan_error = %q", it.LastReplanError)
	}
	if it.GenerationError != "" {
		t.Fatal("replan failure must not touch generation_error")
	}
	// Trigger fields are preserved for audit.
	if it.ReplanTriggerType != TriggerTraffic || it.ReplanTriggerDetails != "road closed" {
		t.Fatalf("trigger audit fields cleared: %+v", it)
	}
}

func TestFailedReplanThenRetrySucceeds(t *testing.T) {
	now := time.Now().UTC()
	it := completedItinerary()

	if err := it.BeginReplan("t-1", ReplanTrigger{}, now); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := it.FailReplan("boom", now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := it.BeginReplan("t-2", ReplanTrigger{}, now); err != nil {
		t.Fatalf("retry after failure should acquire lock: %v", err)
	}
	if err := it.CompleteReplan(json.RawMessage(`{"rev":2}`), nil, now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if it.Version != 2 {
		t.Fatalf("version = %d, want 2", it.Version)
	}
}
