package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `overseer is the audit ledger and approval gate for autonomous actions.

Core concepts:
- Activity: one action taken or proposed, with why it was chosen and what else was considered. Append-only; only a pending activity's result ever changes.
- Chain: parentId links an activity to the one that caused it. get_activity with includeChain walks it root first.
- Approval: an activity recorded with requiresApproval=true waits as "pending" until approved, rejected or expired.
- Mode: full_auto, supervised, notify_only or safe_mode. It decides what record_activity does with each draft.

Workflow for producers:
1) Before acting, call record_activity with source, action, actionType and decisionReason.
2) Read the decision: execute means go ahead; queue means wait for approval; reject means safe_mode refused it; advisory_skip means notify_only logged it but you must not act.
3) For queued work, poll get_activity until the result is approved or rejected. Rejected with resultDetails.reason=expired means nobody decided in time.
4) Record follow-up work with parentId so the causal chain stays intact.

Workflow for operators:
- list_pending_approvals, then approve_activity or reject_activity.
- set_mode safe_mode with a duration to pause autonomy for a while; it reverts to the previous mode on its own.

Docs:
- overseer://docs/index
- overseer://docs/modes
- overseer://docs/approvals
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "overseer://docs/index",
		Name:        "docs_index",
		Title:       "overseer docs index",
		Description: "Entry point: what the ledger records and which doc to read next.",
		Content: `# overseer: Docs Index

## What gets recorded

Every activity has a source (scheduler, alert-router, model-router, memory-updater, human),
an actionType (autonomous, triggered, manual, scheduled), an action name and optional target,
params, decisionReason and alternativesConsidered.

Results: pending, ok, error, approved, rejected. Everything but pending is final.

## Reading

- list_activities filters by source, actionType, result, target, parentId and a time window.
  Results are newest first; page with beforeId. since/until bound when an activity was
  recorded; resolvedSince bounds when it was resolved.
- The HTTP stream (/api/v1/activities/stream) ends with a gap frame when a reader falls
  behind. Its lastCommitAt is the commit time of the last event delivered. Query
  since=lastCommitAt for missed activities and resolvedSince=lastCommitAt for missed
  resolutions of older ones; since alone never returns those.
- get_activity with includeChain=true returns the causal chain root first. If the oldest entry
  still has a parentId, the root was pruned and unknownParent is true.

## Next

- overseer://docs/modes for what each mode does to record_activity.
- overseer://docs/approvals for the approval lifecycle and its errors.
`,
	},
	{
		URI:         "overseer://docs/modes",
		Name:        "docs_modes",
		Title:       "Operating modes",
		Description: "How full_auto, supervised, notify_only and safe_mode gate new activities.",
		Content: `# Operating modes

| mode | record_activity decision |
|---|---|
| full_auto | execute, unless the draft asks for approval (queue) |
| supervised | queue when a configured rule matches or the draft asks for approval, else execute |
| notify_only | advisory_skip: logged as ok with resultDetails.executed=false; do not act |
| safe_mode | reject: logged as rejected with resultDetails.reason=safe_mode; do not act |

## Timed safe_mode

set_mode {mode: "safe_mode", duration: "10m"} records the mode you came from and switches back
to it when the duration elapses. Only one level of history is kept: entering safe_mode again
while in safe_mode keeps the original previous mode and replaces the revert time.

A duration with any other mode is an InvalidInput error.

## Rules

Rules only apply in supervised mode. Each rule may match action (glob), source and actionType;
all given fields must match. The matched rule name is returned as decision.rule and stored in
resultDetails.rule.
`,
	},
	{
		URI:         "overseer://docs/approvals",
		Name:        "docs_approvals",
		Title:       "Approval lifecycle",
		Description: "Pending, approve, reject, expiry, and how to read NotPending errors.",
		Content: `# Approval lifecycle

pending -> approved  (approve_activity)
pending -> rejected  (reject_activity)
pending -> rejected  (deadline passed; resultDetails.reason = "expired")

Exactly one of these wins. The loser gets a NotPending error whose details carry:

- reason: unknown, resolved or expired
- current: the activity as it is now

If current already shows the outcome you wanted, treat the call as done.

## Identity

When bearer auth is on, the authenticated principal is recorded as approvedBy and any
approver argument is ignored. Without auth the approver argument is required.

## Deadlines

Each pending activity gets expiresAt = timestamp + approvalTimeout (default from config).
Expired activities never execute. The sweeper marks them, and so does any decision that arrives late.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
