// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates the request itself is malformed or incomplete.
var ErrValidation = errors.New("validation failed")

// ErrConflict indicates the operation is not allowed in the entity's
// current state (e.g. generation already in progress).
var ErrConflict = errors.New("conflict: operation not allowed in current state")

// ErrReplanInFlight indicates a replan is already running for the
// itinerary. It is a kind of ErrConflict.
var ErrReplanInFlight = errors.New("conflict: replan already in flight")

// ErrNoData indicates the itinerary has no generated data to replan.
// It is a kind of ErrConflict.
var ErrNoData = errors.New("conflict: itinerary has no data to replan")

// IsConflict reports whether err is any of the conflict sentinels.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrReplanInFlight) ||
		errors.Is(err, ErrNoData)
}
