// Package sentinel holds the storage facts that stores report and services
// translate into domain errors. Validation failures use pkg/domain-errors.
package sentinel

import (
	"context"
	"errors"
)

var (
	// ErrNotFound: no record, entry, geofence or sync document under the key.
	ErrNotFound = errors.New("not found")
	// ErrConflict: the stored version moved on since the caller read it.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyUsed: a unique key (visit id, address key, document id) is taken.
	ErrAlreadyUsed = errors.New("already used")
	// ErrInvalidState: the entity cannot take the requested change, such as
	// relinking a time entry to a second record.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable: the backing store or a collaborator could not be reached.
	ErrUnavailable = errors.New("unavailable")
)

// Transient reports whether the same write may succeed if tried again after
// re-reading: a lost version race, a unique key taken by a concurrent
// creator, an unreachable store or a deadline.
func Transient(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrAlreadyUsed),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
