package activity

import (
	"encoding/json"
	"time"
)

// Source identifies the producer that submitted an activity.
type Source string

const (
	SourceScheduler     Source = "scheduler"
	SourceAlertRouter   Source = "alert-router"
	SourceModelRouter   Source = "model-router"
	SourceMemoryUpdater Source = "memory-updater"
	SourceHuman         Source = "human"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceScheduler, SourceAlertRouter, SourceModelRouter, SourceMemoryUpdater, SourceHuman:
		return true
	}
	return false
}

// ActionType classifies how an action came about.
type ActionType string

const (
	TypeAutonomous ActionType = "autonomous"
	TypeTriggered  ActionType = "triggered"
	TypeManual     ActionType = "manual"
	TypeScheduled  ActionType = "scheduled"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case TypeAutonomous, TypeTriggered, TypeManual, TypeScheduled:
		return true
	}
	return false
}

// Result is the outcome state of an activity.
type Result string

const (
	ResultPending  Result = "pending"
	ResultOK       Result = "ok"
	ResultError    Result = "error"
	ResultApproved Result = "approved"
	ResultRejected Result = "rejected"
)

// Terminal reports whether r is a final state. Terminal states are sticky.
func (r Result) Terminal() bool {
	switch r {
	case ResultOK, ResultError, ResultApproved, ResultRejected:
		return true
	}
	return false
}

// Valid reports whether r is a known result.
func (r Result) Valid() bool {
	return r == ResultPending || r.Terminal()
}

// Alternative is an option that was considered and not taken.
type Alternative struct {
	Option string `json:"option"`
	Reason string `json:"reason"`
}

// Activity is one recorded action and its outcome.
type Activity struct {
	ID                     int64          `json:"id"`
	Timestamp              time.Time      `json:"timestamp"`
	Source                 Source         `json:"source"`
	SourceRef              string         `json:"sourceId,omitempty"`
	Action                 string         `json:"action"`
	ActionType             ActionType     `json:"actionType"`
	Target                 string         `json:"target,omitempty"`
	Params                 map[string]any `json:"params,omitempty"`
	DecisionReason         string         `json:"decisionReason,omitempty"`
	AlternativesConsidered []Alternative  `json:"alternativesConsidered,omitempty"`
	ParentID               *int64         `json:"parentId,omitempty"`
	RequiresApproval       bool           `json:"requiresApproval"`
	Result                 Result         `json:"result"`
	ResultDetails          map[string]any `json:"resultDetails,omitempty"`
	ApprovedBy             *string        `json:"approvedBy,omitempty"`
	ApprovedAt             *time.Time     `json:"approvedAt,omitempty"`
	ExpiresAt              *time.Time     `json:"expiresAt,omitempty"`
	ResolvedAt             *time.Time     `json:"resolvedAt,omitempty"`
}

// IsPending reports whether the activity is waiting on a human decision.
func (a *Activity) IsPending() bool {
	return a.RequiresApproval && a.Result == ResultPending
}

// Expired reports whether a pending activity is past its expiry at now.
func (a *Activity) Expired(now time.Time) bool {
	return a.IsPending() && a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// Draft is the caller-supplied part of an activity. Identity and timestamps
// are assigned by the store.
type Draft struct {
	Source                 Source         `json:"source"`
	SourceRef              string         `json:"sourceId,omitempty"`
	Action                 string         `json:"action"`
	ActionType             ActionType     `json:"actionType"`
	Target                 string         `json:"target,omitempty"`
	Params                 map[string]any `json:"params,omitempty"`
	DecisionReason         string         `json:"decisionReason,omitempty"`
	AlternativesConsidered []Alternative  `json:"alternativesConsidered,omitempty"`
	ParentID               *int64         `json:"parentId,omitempty"`
	RequiresApproval       bool           `json:"requiresApproval"`
	Result                 Result         `json:"result,omitempty"`
	ResultDetails          map[string]any `json:"resultDetails,omitempty"`

	// ApprovalTimeout sets ExpiresAt relative to the assigned timestamp for
	// approval-gated drafts. Zero means the store default.
	ApprovalTimeout time.Duration `json:"-"`
}

// Resolution is a terminal transition applied to a pending activity.
type Resolution struct {
	Result   Result
	Details  map[string]any
	Approver string
}

// EventKind identifies what happened to an activity in the feed.
type EventKind string

const (
	EventAppended EventKind = "appended"
	EventResolved EventKind = "resolved"
)

// Event is a committed store write as seen by feed subscribers.
type Event struct {
	Seq      uint64    `json:"seq"`
	Kind     EventKind `json:"kind"`
	Activity Activity  `json:"activity"`
}

// sameDetails compares two payloads by their canonical JSON encoding.
// Stored payloads carry json.Number, which encodes as its literal digits, so
// an int64 and the value read back from storage compare equal.
func sameDetails(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}
