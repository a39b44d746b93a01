package activity

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParent indicates parentId does not reference an existing activity.
	ErrInvalidParent = errors.New("invalid parent")
	// ErrInvalidState indicates a draft or resolution with an illegal result.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotFound indicates the activity doesn't exist.
	ErrNotFound = errors.New("activity not found")
	// ErrAlreadyResolved indicates the activity already reached a terminal result.
	ErrAlreadyResolved = errors.New("activity already resolved")
	// ErrInvalidInput indicates a malformed draft or filter.
	ErrInvalidInput = errors.New("invalid activity input")
)

// AlreadyResolvedError carries the stored record that blocked a resolution.
type AlreadyResolvedError struct {
	Current *Activity
}

func (e *AlreadyResolvedError) Error() string {
	if e.Current == nil {
		return ErrAlreadyResolved.Error()
	}
	return fmt.Sprintf("activity %d already resolved as %s", e.Current.ID, e.Current.Result)
}

func (e *AlreadyResolvedError) Unwrap() error {
	return ErrAlreadyResolved
}
