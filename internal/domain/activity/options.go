package activity

import "time"

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Filter selects activities for Query and for feed subscriptions. Since and
// Until bound the recording timestamp; ResolvedSince bounds resolvedAt.
type Filter struct {
	Source        *Source
	ActionType    *ActionType
	Result        *Result
	Target        *string
	ParentID      *int64
	Since         time.Time
	Until         time.Time
	ResolvedSince time.Time
	BeforeID      int64
	Limit         int
}

// Matches applies the predicate part of the filter to a single activity.
// BeforeID and Limit are pagination controls and are ignored here.
func (f Filter) Matches(a *Activity) bool {
	if f.Source != nil && a.Source != *f.Source {
		return false
	}
	if f.ActionType != nil && a.ActionType != *f.ActionType {
		return false
	}
	if f.Result != nil && a.Result != *f.Result {
		return false
	}
	if f.Target != nil && a.Target != *f.Target {
		return false
	}
	if f.ParentID != nil && (a.ParentID == nil || *a.ParentID != *f.ParentID) {
		return false
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !a.Timestamp.Before(f.Until) {
		return false
	}
	if !f.ResolvedSince.IsZero() && (a.ResolvedAt == nil || a.ResolvedAt.Before(f.ResolvedSince)) {
		return false
	}
	return true
}

// normalizedLimit caps the page size.
func (f Filter) normalizedLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}
