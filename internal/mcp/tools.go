package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/overseer/internal/domain/approval"
	"github.com/rpggio/overseer/internal/transport"
)

type tools struct {
	services   Services
	logger     *slog.Logger
	onInternal func(error)
}

func registerTools(server *sdkmcp.Server, t *tools) {
	// Activities
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name: "record_activity",
		Description: "Record an action taken or proposed by an autonomous component. " +
			"The current mode decides whether it executes, waits for approval, is refused (safe_mode) or is logged only (notify_only). " +
			"Returns {decision, mode, rule, activity}.",
	}, t.recordActivity)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_activities",
		Description: "List activities newest first. Page with beforeId=nextBeforeId from the previous page.",
	}, t.listActivities)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_activity",
		Description: "Get one activity, optionally with its causal chain (root first). unknownParent=true means the chain was cut by retention.",
	}, t.getActivity)

	// Approvals
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_pending_approvals",
		Description: "List activities awaiting approval, soonest expiry first.",
	}, t.listPending)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "approve_activity",
		Description: "Approve a pending activity. Fails with NotPending if it was already decided or has expired.",
	}, t.approve)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "reject_activity",
		Description: "Reject a pending activity. Fails with NotPending if it was already decided or has expired.",
	}, t.reject)

	// Mode
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_mode",
		Description: "Get the current operating mode, when it started and when a timed safe_mode reverts.",
	}, t.getMode)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "set_mode",
		Description: "Switch the operating mode. A duration is only allowed with safe_mode and reverts to the previous mode when it elapses.",
	}, t.setMode)
}

func (t *tools) recordActivity(ctx context.Context, _ *sdkmcp.CallToolRequest, in RecordActivityInput) (*sdkmcp.CallToolResult, any, error) {
	draft := in.draft()
	timeout, err := transport.ParseApprovalTimeout(in.ApprovalTimeout)
	if err != nil {
		return t.fail(ctx, "record_activity", err)
	}
	draft.ApprovalTimeout = timeout

	outcome, err := t.services.Modes.Submit(ctx, draft)
	if err != nil {
		return t.fail(ctx, "record_activity", err)
	}
	return jsonResult(outcome)
}

func (t *tools) listActivities(ctx context.Context, _ *sdkmcp.CallToolRequest, in ListActivitiesInput) (*sdkmcp.CallToolResult, any, error) {
	filter, err := transport.ParseFilter(in.values())
	if err != nil {
		return t.fail(ctx, "list_activities", err)
	}
	items, err := t.services.Ledger.Query(ctx, filter)
	if err != nil {
		return t.fail(ctx, "list_activities", err)
	}
	return jsonResult(transport.NewListResponse(items, filter))
}

func (t *tools) getActivity(ctx context.Context, _ *sdkmcp.CallToolRequest, in GetActivityInput) (*sdkmcp.CallToolResult, any, error) {
	a, err := t.services.Ledger.Get(ctx, in.ID)
	if err != nil {
		return t.fail(ctx, "get_activity", err)
	}
	resp := transport.DetailResponse{Activity: a}
	if in.IncludeChain {
		chain, err := t.services.Ledger.GetChain(ctx, in.ID)
		if err != nil {
			return t.fail(ctx, "get_activity", err)
		}
		resp.Chain = chain
		resp.UnknownParent = len(chain) > 0 && chain[0].ParentID != nil
	}
	return jsonResult(resp)
}

func (t *tools) listPending(ctx context.Context, _ *sdkmcp.CallToolRequest, _ emptyInput) (*sdkmcp.CallToolResult, any, error) {
	pending, err := t.services.Approvals.ListPending(ctx)
	if err != nil {
		return t.fail(ctx, "list_pending_approvals", err)
	}
	if pending == nil {
		pending = []approval.PendingApproval{}
	}
	return jsonResult(PendingOutput{Approvals: pending})
}

func (t *tools) approve(ctx context.Context, _ *sdkmcp.CallToolRequest, in ApproveInput) (*sdkmcp.CallToolResult, any, error) {
	a, err := t.services.Approvals.Approve(ctx, in.ID, transport.Approver(ctx, in.Approver), in.Comment)
	if err != nil {
		return t.fail(ctx, "approve_activity", err)
	}
	return jsonResult(a)
}

func (t *tools) reject(ctx context.Context, _ *sdkmcp.CallToolRequest, in RejectInput) (*sdkmcp.CallToolResult, any, error) {
	a, err := t.services.Approvals.Reject(ctx, in.ID, transport.Approver(ctx, in.Approver), in.Reason)
	if err != nil {
		return t.fail(ctx, "reject_activity", err)
	}
	return jsonResult(a)
}

func (t *tools) getMode(ctx context.Context, _ *sdkmcp.CallToolRequest, _ emptyInput) (*sdkmcp.CallToolResult, any, error) {
	state, err := t.services.Modes.Current(ctx)
	if err != nil {
		return t.fail(ctx, "get_mode", err)
	}
	return jsonResult(state)
}

func (t *tools) setMode(ctx context.Context, _ *sdkmcp.CallToolRequest, in SetModeInput) (*sdkmcp.CallToolResult, any, error) {
	m, d, err := transport.ParseModeChange(in.Mode, in.Duration)
	if err != nil {
		return t.fail(ctx, "set_mode", err)
	}
	state, err := t.services.Modes.SetMode(ctx, m, d)
	if err != nil {
		return t.fail(ctx, "set_mode", err)
	}
	principal, _ := transport.PrincipalFromContext(ctx)
	t.logger.Info("mode changed via mcp", "mode", state.Mode, "principal", principal, "revert_at", state.RevertAt)
	return jsonResult(state)
}

// fail turns err into a tool error result carrying the API error as JSON.
func (t *tools) fail(ctx context.Context, tool string, err error) (*sdkmcp.CallToolResult, any, error) {
	apiErr := transport.MapError(err)
	if apiErr.Kind == transport.KindInternal {
		t.logger.ErrorContext(ctx, "tool failed", "tool", tool, "error", err)
		if t.onInternal != nil {
			t.onInternal(err)
		}
	}
	data, mErr := json.Marshal(map[string]any{"error": apiErr})
	if mErr != nil {
		return nil, nil, mErr
	}
	return &sdkmcp.CallToolResult{
		IsError: true,
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func jsonResult(v any) (*sdkmcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(data)}},
	}, nil, nil
}
