package approval

import (
	"errors"
	"fmt"

	"github.com/rpggio/overseer/internal/domain/activity"
)

var (
	// ErrNotPending indicates the activity is unknown, resolved or expired.
	ErrNotPending = errors.New("activity is not pending approval")
	// ErrInvalidInput indicates a missing approver or malformed draft.
	ErrInvalidInput = errors.New("invalid approval input")
)

// NotPendingReason says why a decision could not be applied.
type NotPendingReason string

const (
	ReasonUnknown  NotPendingReason = "unknown"
	ReasonResolved NotPendingReason = "resolved"
	ReasonExpired  NotPendingReason = "expired"
)

// NotPendingError is returned by Approve and Reject. Current holds the
// stored record when one exists, so a caller whose intended outcome already
// happened can treat it as success.
type NotPendingError struct {
	ID      int64
	Reason  NotPendingReason
	Current *activity.Activity
}

func (e *NotPendingError) Error() string {
	switch e.Reason {
	case ReasonExpired:
		return fmt.Sprintf("activity %d expired before a decision was made", e.ID)
	case ReasonResolved:
		if e.Current != nil {
			return fmt.Sprintf("activity %d is not pending: already %s", e.ID, e.Current.Result)
		}
		return fmt.Sprintf("activity %d is not pending: already resolved", e.ID)
	default:
		return fmt.Sprintf("activity %d is not pending approval", e.ID)
	}
}

func (e *NotPendingError) Unwrap() error {
	return ErrNotPending
}
