package activity

import (
	"fmt"
	"strings"
)

// ValidateDraft checks a draft and normalizes its result in place.
func ValidateDraft(d *Draft) error {
	if !d.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidInput, d.Source)
	}
	if !d.ActionType.Valid() {
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidInput, d.ActionType)
	}
	d.Action = strings.TrimSpace(d.Action)
	if d.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidInput)
	}
	if d.ParentID != nil && *d.ParentID <= 0 {
		return fmt.Errorf("%w: parent id %d is not a valid activity id", ErrInvalidParent, *d.ParentID)
	}

	if d.RequiresApproval {
		switch d.Result {
		case "", ResultPending:
			d.Result = ResultPending
			return nil
		default:
			return fmt.Errorf("%w: approval-gated activity must start pending, got %q", ErrInvalidState, d.Result)
		}
	}

	switch d.Result {
	case ResultOK, ResultError, ResultRejected:
		return nil
	case "":
		return fmt.Errorf("%w: a terminal result is required when no approval is needed", ErrInvalidState)
	default:
		return fmt.Errorf("%w: result %q requires the approval path", ErrInvalidState, d.Result)
	}
}

// ValidateFilter checks enum fields of a query filter.
func ValidateFilter(f Filter) error {
	if f.Source != nil && !f.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidInput, *f.Source)
	}
	if f.ActionType != nil && !f.ActionType.Valid() {
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidInput, *f.ActionType)
	}
	if f.Result != nil && !f.Result.Valid() {
		return fmt.Errorf("%w: unknown result %q", ErrInvalidInput, *f.Result)
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return fmt.Errorf("%w: until precedes since", ErrInvalidInput)
	}
	return nil
}
