package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voyago/voyago/internal/domain"
	"github.com/voyago/voyago/internal/domain/itinerary"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const itineraryColumns = `id, user_id, title, destination, start_date, end_date, status,
	original_prompt, generation_task_id, data, generation_error, completed_at,
	version, version_history, last_replan_at, COALESCE(replan_task_id, ''), last_replan_error,
	previous_version_id, replan_reason, replan_trigger_type, replan_trigger_details,
	created_at, updated_at`

func (s *Store) GetItinerary(ctx context.Context, id string) (*itinerary.Itinerary, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itineraryColumns+` FROM itineraries WHERE id = $1`, id)

	it, err := scanItinerary(row)
	if err != nil {
		return nil, notFoundWrap(err, "get itinerary %s", id)
	}
	return &it, nil
}

// GetItineraryByTaskID resolves the itinerary a generation or replan
// task belongs to.
func (s *Store) GetItineraryByTaskID(ctx context.Context, taskID string) (*itinerary.Itinerary, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itineraryColumns+` FROM itineraries
		 WHERE generation_task_id = $1 OR replan_task_id = $1
		 ORDER BY updated_at DESC LIMIT 1`, taskID)

	it, err := scanItinerary(row)
	if err != nil {
		return nil, notFoundWrap(err, "get itinerary by task %s", taskID)
	}
	return &it, nil
}

func (s *Store) ListItineraries(ctx context.Context, userID string) ([]itinerary.Itinerary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itineraryColumns+` FROM itineraries
		 WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list itineraries: %w", err)
	}
	defer rows.Close()

	var its []itinerary.Itinerary
	for rows.Next() {
		it, err := scanItinerary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan itinerary: %w", err)
		}
		its = append(its, it)
	}
	return its, rows.Err()
}

func (s *Store) CreateItinerary(ctx context.Context, req itinerary.CreateRequest) (*itinerary.Itinerary, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO itineraries (user_id, title, destination, start_date, end_date, original_prompt)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+itineraryColumns,
		req.UserID, req.Title, req.Destination, req.StartDate, req.EndDate, req.Prompt)

	it, err := scanItinerary(row)
	if err != nil {
		return nil, fmt.Errorf("create itinerary: %w", err)
	}
	return &it, nil
}

func (s *Store) BeginGeneration(ctx context.Context, id, taskID string) (*itinerary.Itinerary, error) {
	return s.transition(ctx, id, func(it *itinerary.Itinerary, now time.Time) error {
		return it.BeginGeneration(taskID, now)
	})
}

func (s *Store) CompleteGeneration(ctx context.Context, id string, data json.RawMessage) (*itinerary.Itinerary, error) {
	return s.transition(ctx, id, func(it *itinerary.Itinerary, now time.Time) error {
		return it.CompleteGeneration(data, now)
	})
}

func (s *Store) FailGeneration(ctx context.Context, id, msg string) (*itinerary.Itinerary, error) {
	return s.transition(ctx, id, func(it *itinerary.Itinerary, now time.Time) error {
		return it.FailGeneration(msg, now)
	})
}

// AcquireReplanLock takes the single-flight replan lock as one
// conditional UPDATE. Concurrent callers race on the WHERE clause; the
// row is never read first and written second.
func (s *Store) AcquireReplanLock(ctx context.Context, id, taskID string, trig itinerary.ReplanTrigger) (*itinerary.Itinerary, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE itineraries
		 SET replan_task_id = $2, replan_reason = $3, replan_trigger_type = $4,
		     replan_trigger_details = $5, last_replan_at = $6, last_replan_error = '', updated_at = $6
		 WHERE id = $1 AND replan_task_id IS NULL AND data IS NOT NULL
		 RETURNING `+itineraryColumns,
		id, taskID, string(trig.Reason), string(trig.Type), trig.Details, time.Now().UTC())

	it, err := scanItinerary(row)
	if err == nil {
		return &it, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("acquire replan lock %s: %w", id, err)
	}

	// Zero rows: tell the caller which guard rejected the lock.
	var locked, hasData bool
	err = s.pool.QueryRow(ctx,
		`SELECT replan_task_id IS NOT NULL, data IS NOT NULL FROM itineraries WHERE id = $1`, id,
	).Scan(&locked, &hasData)
	if err != nil {
		return nil, notFoundWrap(err, "acquire replan lock %s", id)
	}
	if !hasData {
		return nil, fmt.Errorf("acquire replan lock %s: %w", id, domain.ErrNoData)
	}
	// Either still locked, or locked-then-released since the UPDATE.
	return nil, fmt.Errorf("acquire replan lock %s: %w", id, domain.ErrReplanInFlight)
}

func (s *Store) CompleteReplan(ctx context.Context, id string, newData json.RawMessage, changes []string) (*itinerary.Itinerary, error) {
	return s.transition(ctx, id, func(it *itinerary.Itinerary, now time.Time) error {
		return it.CompleteReplan(newData, changes, now)
	})
}

func (s *Store) FailReplan(ctx context.Context, id, msg string) (*itinerary.Itinerary, error) {
	return s.transition(ctx, id, func(it *itinerary.Itinerary, now time.Time) error {
		return it.FailReplan(msg, now)
	})
}

// transition loads the row under FOR UPDATE, applies the domain state
// change and persists the full lifecycle field set in one transaction.
// Concurrent transitions on the same itinerary serialize on the row
// lock, so the domain guards always see the latest committed state.
func (s *Store) transition(ctx context.Context, id string, apply func(*itinerary.Itinerary, time.Time) error) (*itinerary.Itinerary, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx,
		`SELECT `+itineraryColumns+` FROM itineraries WHERE id = $1 FOR UPDATE`, id)
	it, err := scanItinerary(row)
	if err != nil {
		return nil, notFoundWrap(err, "get itinerary %s", id)
	}

	if err := apply(&it, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("itinerary %s: %w", id, err)
	}

	historyJSON, err := json.Marshal(orEmptyHistory(it.VersionHistory))
	if err != nil {
		return nil, fmt.Errorf("marshal version_history: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE itineraries
		 SET status = $2, generation_task_id = $3, data = $4, generation_error = $5, completed_at = $6,
		     version = $7, version_history = $8, last_replan_at = $9, replan_task_id = $10,
		     last_replan_error = $11, replan_reason = $12, replan_trigger_type = $13,
		     replan_trigger_details = $14, updated_at = $15
		 WHERE id = $1`,
		it.ID, string(it.Status), it.GenerationTaskID, []byte(it.Data), it.GenerationError, it.CompletedAt,
		it.Version, historyJSON, it.LastReplanAt, nullIfEmpty(it.ReplanTaskID),
		it.LastReplanError, string(it.ReplanReason), string(it.ReplanTriggerType),
		it.ReplanTriggerDetails, it.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update itinerary %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &it, nil
}

func orEmptyHistory(entries []itinerary.VersionEntry) []itinerary.VersionEntry {
	if entries == nil {
		return []itinerary.VersionEntry{}
	}
	return entries
}

func scanItinerary(row scannable) (itinerary.Itinerary, error) {
	var it itinerary.Itinerary
	var data, historyJSON []byte
	err := row.Scan(
		&it.ID, &it.UserID, &it.Title, &it.Destination, &it.StartDate, &it.EndDate, &it.Status,
		&it.OriginalPrompt, &it.GenerationTaskID, &data, &it.GenerationError, &it.CompletedAt,
		&it.Version, &historyJSON, &it.LastReplanAt, &it.ReplanTaskID, &it.LastReplanError,
		&it.PreviousVersionID, &it.ReplanReason, &it.ReplanTriggerType, &it.ReplanTriggerDetails,
		&it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return it, err
	}
	if data != nil {
		it.Data = json.RawMessage(data)
	}
	if historyJSON != nil {
		if err := json.Unmarshal(historyJSON, &it.VersionHistory); err != nil {
			return it, fmt.Errorf("unmarshal version_history: %w", err)
		}
	}
	return it, nil
}
