package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional write finds the row in an
	// unexpected state (e.g. resolving an activity that is no longer pending)
	ErrConflict = errors.New("conflict: row is not in the expected state")

	// ErrBusy is returned when the database stays locked after retries
	ErrBusy = errors.New("database busy")
)
