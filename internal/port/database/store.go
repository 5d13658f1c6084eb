// Package database defines the port interface for durable itinerary storage.
package database

import (
	"context"
	"encoding/json"

	"github.com/voyago/voyago/internal/domain/itinerary"
)

// Store is the port interface for the itinerary store. Every lifecycle
// transition is atomic with respect to concurrent transitions on the
// same row; in particular AcquireReplanLock is a single check-and-set,
// never a read followed by a write.
type Store interface {
	GetItinerary(ctx context.Context, id string) (*itinerary.Itinerary, error)
	GetItineraryByTaskID(ctx context.Context, taskID string) (*itinerary.Itinerary, error)
	ListItineraries(ctx context.Context, userID string) ([]itinerary.Itinerary, error)
	CreateItinerary(ctx context.Context, req itinerary.CreateRequest) (*itinerary.Itinerary, error)

	// BeginGeneration moves draft/failed to processing and records the
	// task correlation id. Returns domain.ErrConflict otherwise.
	BeginGeneration(ctx context.Context, id, taskID string) (*itinerary.Itinerary, error)

	// CompleteGeneration stores data and marks the itinerary completed.
	CompleteGeneration(ctx context.Context, id string, data json.RawMessage) (*itinerary.Itinerary, error)

	// FailGeneration marks the itinerary failed, leaving data untouched.
	FailGeneration(ctx context.Context, id, msg string) (*itinerary.Itinerary, error)

	// AcquireReplanLock sets replan_task_id iff it is currently null and
	// data is present. Returns domain.ErrReplanInFlight or
	// domain.ErrNoData on guard failure.
	AcquireReplanLock(ctx context.Context, id, taskID string, trig itinerary.ReplanTrigger) (*itinerary.Itinerary, error)

	// CompleteReplan clears the lock, increments the version, appends
	// the history entry and replaces data, all in one transaction.
	CompleteReplan(ctx context.Context, id string, newData json.RawMessage, changes []string) (*itinerary.Itinerary, error)

	// FailReplan clears the lock and records the replan error only.
	FailReplan(ctx context.Context, id, msg string) (*itinerary.Itinerary, error)
}
