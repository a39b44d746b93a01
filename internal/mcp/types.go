package mcp

import (
	"net/url"
	"strconv"

	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/rpggio/overseer/internal/domain/approval"
)

// RecordActivityInput is the argument of record_activity.
type RecordActivityInput struct {
	Source                 string                 `json:"source" jsonschema:"producer: scheduler, alert-router, model-router, memory-updater or human"`
	SourceID               string                 `json:"sourceId,omitempty" jsonschema:"producer-side reference such as a job or alert id"`
	Action                 string                 `json:"action" jsonschema:"what was done or is proposed, e.g. restart_service"`
	ActionType             string                 `json:"actionType" jsonschema:"autonomous, triggered, manual or scheduled"`
	Target                 string                 `json:"target,omitempty" jsonschema:"what the action affects"`
	Params                 map[string]any         `json:"params,omitempty" jsonschema:"action parameters"`
	DecisionReason         string                 `json:"decisionReason,omitempty" jsonschema:"why this action was chosen"`
	AlternativesConsidered []activity.Alternative `json:"alternativesConsidered,omitempty" jsonschema:"options that were rejected and why"`
	ParentID               *int64                 `json:"parentId,omitempty" jsonschema:"id of the activity that caused this one"`
	RequiresApproval       bool                   `json:"requiresApproval,omitempty" jsonschema:"queue for human approval instead of executing"`
	Result                 string                 `json:"result,omitempty" jsonschema:"ok, error or rejected; omit when approval is required"`
	ResultDetails          map[string]any         `json:"resultDetails,omitempty" jsonschema:"outcome payload"`
	ApprovalTimeout        string                 `json:"approvalTimeout,omitempty" jsonschema:"how long approval may take, e.g. 30m"`
}

func (in RecordActivityInput) draft() activity.Draft {
	return activity.Draft{
		Source:                 activity.Source(in.Source),
		SourceRef:              in.SourceID,
		Action:                 in.Action,
		ActionType:             activity.ActionType(in.ActionType),
		Target:                 in.Target,
		Params:                 in.Params,
		DecisionReason:         in.DecisionReason,
		AlternativesConsidered: in.AlternativesConsidered,
		ParentID:               in.ParentID,
		RequiresApproval:       in.RequiresApproval,
		Result:                 activity.Result(in.Result),
		ResultDetails:          in.ResultDetails,
	}
}

// ListActivitiesInput is the argument of list_activities.
type ListActivitiesInput struct {
	Source        string `json:"source,omitempty"`
	ActionType    string `json:"actionType,omitempty"`
	Result        string `json:"result,omitempty" jsonschema:"pending, ok, error, approved or rejected"`
	Target        string `json:"target,omitempty"`
	ParentID      *int64 `json:"parentId,omitempty"`
	Since         string `json:"since,omitempty" jsonschema:"RFC 3339 lower bound, inclusive"`
	Until         string `json:"until,omitempty" jsonschema:"RFC 3339 upper bound, exclusive"`
	ResolvedSince string `json:"resolvedSince,omitempty" jsonschema:"RFC 3339: only activities resolved at or after this"`
	BeforeID      int64  `json:"beforeId,omitempty" jsonschema:"page cursor: only ids below this"`
	Limit         int    `json:"limit,omitempty" jsonschema:"page size, default 50, max 500"`
}

func (in ListActivitiesInput) values() url.Values {
	v := url.Values{}
	set := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	set("source", in.Source)
	set("actionType", in.ActionType)
	set("result", in.Result)
	set("target", in.Target)
	set("since", in.Since)
	set("until", in.Until)
	set("resolvedSince", in.ResolvedSince)
	if in.ParentID != nil {
		v.Set("parentId", strconv.FormatInt(*in.ParentID, 10))
	}
	if in.BeforeID != 0 {
		v.Set("beforeId", strconv.FormatInt(in.BeforeID, 10))
	}
	if in.Limit != 0 {
		v.Set("limit", strconv.Itoa(in.Limit))
	}
	return v
}

// GetActivityInput is the argument of get_activity.
type GetActivityInput struct {
	ID           int64 `json:"id"`
	IncludeChain bool  `json:"includeChain,omitempty" jsonschema:"also return the causal chain, root first"`
}

// PendingOutput is the result of list_pending_approvals.
type PendingOutput struct {
	Approvals []approval.PendingApproval `json:"approvals"`
}

// ApproveInput is the argument of approve_activity.
type ApproveInput struct {
	ID       int64  `json:"id"`
	Approver string `json:"approver,omitempty" jsonschema:"who approves; ignored when authenticated"`
	Comment  string `json:"comment,omitempty"`
}

// RejectInput is the argument of reject_activity.
type RejectInput struct {
	ID       int64  `json:"id"`
	Approver string `json:"approver,omitempty" jsonschema:"who rejects; ignored when authenticated"`
	Reason   string `json:"reason,omitempty"`
}

// SetModeInput is the argument of set_mode.
type SetModeInput struct {
	Mode     string `json:"mode" jsonschema:"full_auto, supervised, notify_only or safe_mode"`
	Duration string `json:"duration,omitempty" jsonschema:"safe_mode only: revert to the previous mode after this long, e.g. 10m"`
}

type emptyInput struct{}
