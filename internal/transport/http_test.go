package transport_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/rpggio/overseer/internal/domain/mode"
	"github.com/rpggio/overseer/internal/testserver"
	"github.com/rpggio/overseer/internal/transport"
	"github.com/stretchr/testify/require"
)

type errorBody struct {
	Error struct {
		Kind         string         `json:"kind"`
		Message      string         `json:"message"`
		RecoveryHint string         `json:"recoveryHint"`
		Details      map[string]any `json:"details"`
	} `json:"error"`
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func newClient(t *testing.T, ts *testserver.TestServer) *client {
	return &client{t: t, base: ts.Server.URL, token: ts.Token}
}

func (c *client) do(method, path string, body any) (int, []byte) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, data
}

func (c *client) decode(method, path string, body any, wantStatus int, out any) {
	c.t.Helper()
	status, data := c.do(method, path, body)
	require.Equal(c.t, wantStatus, status, string(data))
	if out != nil {
		require.NoError(c.t, json.Unmarshal(data, out))
	}
}

func (c *client) apiError(method, path string, body any, wantStatus int) errorBody {
	c.t.Helper()
	var env errorBody
	c.decode(method, path, body, wantStatus, &env)
	return env
}

func (c *client) record(body map[string]any) mode.Outcome {
	c.t.Helper()
	status, data := c.do(http.MethodPost, "/api/v1/activities", body)
	require.Contains(c.t, []int{http.StatusCreated, http.StatusAccepted}, status, string(data))
	var out mode.Outcome
	require.NoError(c.t, json.Unmarshal(data, &out))
	return out
}

func scheduled(action string) map[string]any {
	return map[string]any{
		"source":     "scheduler",
		"action":     action,
		"actionType": "scheduled",
		"result":     "ok",
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	ts := testserver.New(t, "token", "alice")

	resp, err := http.Get(ts.Server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(transport.RequestIDHeader))
}

func TestAPIRequiresToken(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	c := newClient(t, ts)
	c.token = "wrong"

	env := c.apiError(http.MethodGet, "/api/v1/activities", nil, http.StatusUnauthorized)
	require.Equal(t, transport.KindUnauthorized, env.Error.Kind)
}

func TestRecordAndChain(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	c := newClient(t, ts)

	alert := c.record(map[string]any{
		"source":         "alert-router",
		"sourceId":       "alert-17",
		"action":         "route_alert",
		"actionType":     "triggered",
		"target":         "disk:/var",
		"decisionReason": "disk above 90%",
		"result":         "ok",
	})
	require.Equal(t, mode.Execute, alert.Decision)
	require.Equal(t, activity.ResultOK, alert.Activity.Result)

	cleanup := c.record(map[string]any{
		"source":         "scheduler",
		"action":         "cleanup_logs",
		"actionType":     "autonomous",
		"parentId":       alert.Activity.ID,
		"decisionReason": "free space for the alerting volume",
		"alternativesConsidered": []map[string]string{
			{"option": "expand volume", "reason": "needs a human"},
		},
		"result": "ok",
	})
	require.Equal(t, alert.Activity.ID, *cleanup.Activity.ParentID)

	var detail transport.DetailResponse
	c.decode(http.MethodGet, fmt.Sprintf("/api/v1/activities/%d?includeChain=true", cleanup.Activity.ID), nil, http.StatusOK, &detail)
	require.Equal(t, cleanup.Activity.ID, detail.Activity.ID)
	require.Len(t, detail.Chain, 2)
	require.Equal(t, alert.Activity.ID, detail.Chain[0].ID)
	require.Equal(t, cleanup.Activity.ID, detail.Chain[1].ID)
	require.False(t, detail.UnknownParent)
	require.Len(t, detail.Activity.AlternativesConsidered, 1)

	env := c.apiError(http.MethodPost, "/api/v1/activities", map[string]any{
		"source": "scheduler", "action": "orphan", "actionType": "scheduled", "result": "ok", "parentId": 999,
	}, http.StatusUnprocessableEntity)
	require.Equal(t, transport.KindInvalidParent, env.Error.Kind)

	env = c.apiError(http.MethodGet, "/api/v1/activities/999", nil, http.StatusNotFound)
	require.Equal(t, transport.KindNotFound, env.Error.Kind)
}

func TestRecordValidation(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	c := newClient(t, ts)

	env := c.apiError(http.MethodPost, "/api/v1/activities", map[string]any{
		"source": "cron", "action": "x", "actionType": "scheduled", "result": "ok",
	}, http.StatusBadRequest)
	require.Equal(t, transport.KindInvalidInput, env.Error.Kind)

	env = c.apiError(http.MethodPost, "/api/v1/activities", map[string]any{
		"source": "scheduler", "action": "x", "actionType": "scheduled", "result": "approved",
	}, http.StatusUnprocessableEntity)
	require.Equal(t, transport.KindInvalidState, env.Error.Kind)

	env = c.apiError(http.MethodPost, "/api/v1/activities", map[string]any{
		"source": "scheduler", "action": "x", "actionType": "scheduled", "surprise": true,
	}, http.StatusBadRequest)
	require.Equal(t, transport.KindInvalidInput, env.Error.Kind)

	env = c.apiError(http.MethodGet, "/api/v1/activities?limit=ten", nil, http.StatusBadRequest)
	require.Equal(t, transport.KindInvalidInput, env.Error.Kind)

	status, _ := c.do(http.MethodGet, "/api/v1/activities", nil)
	require.Equal(t, http.StatusOK, status)
}

func TestListFiltersAndPages(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	c := newClient(t, ts)

	for i := range 5 {
		c.record(scheduled(fmt.Sprintf("job_%d", i)))
	}
	c.record(map[string]any{"source": "human", "action": "manual_fix", "actionType": "manual", "result": "ok"})

	var page transport.ListResponse
	c.decode(http.MethodGet, "/api/v1/activities?source=scheduler&limit=2", nil, http.StatusOK, &page)
	require.Len(t, page.Activities, 2)
	require.Equal(t, "job_4", page.Activities[0].Action)
	require.NotZero(t, page.NextBeforeID)

	var seen []string
	cursor := int64(0)
	for {
		path := "/api/v1/activities?source=scheduler&limit=2"
		if cursor != 0 {
			path += fmt.Sprintf("&beforeId=%d", cursor)
		}
		var p transport.ListResponse
		c.decode(http.MethodGet, path, nil, http.StatusOK, &p)
		for _, a := range p.Activities {
			seen = append(seen, a.Action)
		}
		if p.NextBeforeID == 0 {
			break
		}
		cursor = p.NextBeforeID
	}
	require.Equal(t, []string{"job_4", "job_3", "job_2", "job_1", "job_0"}, seen)

	var humans transport.ListResponse
	c.decode(http.MethodGet, "/api/v1/activities?actionType=manual", nil, http.StatusOK, &humans)
	require.Len(t, humans.Activities, 1)
	require.Equal(t, activity.SourceHuman, humans.Activities[0].Source)
	require.Zero(t, humans.NextBeforeID)
}

func TestApprovalFlow(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	c := newClient(t, ts)

	queued := c.record(map[string]any{
		"source":           "model-router",
		"action":           "switch_model",
		"actionType":       "autonomous",
		"requiresApproval": true,
		"decisionReason":   "latency budget exceeded",
	})
	require.Equal(t, mode.Queue, queued.Decision)
	require.Equal(t, activity.ResultPending, queued.Activity.Result)
	require.NotNil(t, queued.Activity.ExpiresAt)

	var pending struct {
		Approvals []struct {
			Activity  activity.Activity `json:"activity"`
			ExpiresAt time.Time         `json:"expiresAt"`
		} `json:"approvals"`
	}
	c.decode(http.MethodGet, "/api/v1/approvals", nil, http.StatusOK, &pending)
	require.Len(t, pending.Approvals, 1)
	require.Equal(t, queued.Activity.ID, pending.Approvals[0].Activity.ID)

	// the authenticated principal wins over a self-declared approver
	var approved activity.Activity
	path := fmt.Sprintf("/api/v1/approvals/%d/approve", queued.Activity.ID)
	c.decode(http.MethodPost, path, map[string]any{"approver": "mallory", "comment": "go"}, http.StatusOK, &approved)
	require.Equal(t, activity.ResultApproved, approved.Result)
	require.Equal(t, "alice", *approved.ApprovedBy)
	require.Equal(t, "go", approved.ResultDetails["comment"])

	env := c.apiError(http.MethodPost, fmt.Sprintf("/api/v1/approvals/%d/reject", queued.Activity.ID), map[string]any{"reason": "too late"}, http.StatusConflict)
	require.Equal(t, transport.KindNotPending, env.Error.Kind)
	require.Equal(t, "resolved", env.Error.Details["reason"])
	current, ok := env.Error.Details["current"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "approved", current["result"])

	c.decode(http.MethodGet, "/api/v1/approvals", nil, http.StatusOK, &pending)
	require.Empty(t, pending.Approvals)

	env = c.apiError(http.MethodPost, "/api/v1/approvals/999/approve", nil, http.StatusConflict)
	require.Equal(t, "unknown", env.Error.Details["reason"])
}

func TestApprovalWithoutAuthNeedsApprover(t *testing.T) {
	ts := testserver.NewWithOptions(t, "", "", testserver.Options{DisableAuth: true})
	c := newClient(t, ts)

	queued := c.record(map[string]any{
		"source": "scheduler", "action": "drop_table", "actionType": "scheduled", "requiresApproval": true,
	})
	path := fmt.Sprintf("/api/v1/approvals/%d/reject", queued.Activity.ID)

	env := c.apiError(http.MethodPost, path, map[string]any{"reason": "no"}, http.StatusBadRequest)
	require.Equal(t, transport.KindInvalidInput, env.Error.Kind)

	var rejected activity.Activity
	c.decode(http.MethodPost, path, map[string]any{"approver": "bob", "reason": "no"}, http.StatusOK, &rejected)
	require.Equal(t, activity.ResultRejected, rejected.Result)
	require.Equal(t, "bob", *rejected.ApprovedBy)
	require.Equal(t, "no", rejected.ResultDetails["reason"])
}

func TestExpiredApprovalIsNotPending(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	c := newClient(t, ts)

	queued := c.record(map[string]any{
		"source":           "memory-updater",
		"action":           "compact_memory",
		"actionType":       "scheduled",
		"requiresApproval": true,
		"approvalTimeout":  "20ms",
	})
	time.Sleep(50 * time.Millisecond)

	env := c.apiError(http.MethodPost, fmt.Sprintf("/api/v1/approvals/%d/approve", queued.Activity.ID), nil, http.StatusConflict)
	require.Equal(t, transport.KindNotPending, env.Error.Kind)
	require.Equal(t, "expired", env.Error.Details["reason"])

	var detail transport.DetailResponse
	c.decode(http.MethodGet, fmt.Sprintf("/api/v1/activities/%d", queued.Activity.ID), nil, http.StatusOK, &detail)
	require.Equal(t, activity.ResultRejected, detail.Activity.Result)
	require.Equal(t, "expired", detail.Activity.ResultDetails["reason"])

	env = c.apiError(http.MethodPost, "/api/v1/activities", map[string]any{
		"source": "scheduler", "action": "x", "actionType": "scheduled", "requiresApproval": true, "approvalTimeout": "-1m",
	}, http.StatusBadRequest)
	require.Equal(t, transport.KindInvalidInput, env.Error.Kind)
}

func TestModeEndpoints(t *testing.T) {
	ts := testserver.New(t, "token", "alice")
	c := newClient(t, ts)

	var state mode.State
	c.decode(http.MethodGet, "/api/v1/mode", nil, http.StatusOK, &state)
	require.Equal(t, mode.FullAuto, state.Mode)

	c.decode(http.MethodPut, "/api/v1/mode", map[string]any{"mode": "safe_mode", "duration": "10m"}, http.StatusOK, &state)
	require.Equal(t, mode.SafeMode, state.Mode)
	require.Equal(t, mode.FullAuto, state.Previous)
	require.NotNil(t, state.RevertAt)

	out := c.record(map[string]any{"source": "scheduler", "action": "restart_db", "actionType": "scheduled"})
	require.Equal(t, mode.Reject, out.Decision)
	require.Equal(t, activity.ResultRejected, out.Activity.Result)
	require.Equal(t, "safe_mode", out.Activity.ResultDetails["reason"])

	env := c.apiError(http.MethodPut, "/api/v1/mode", map[string]any{"mode": "yolo"}, http.StatusBadRequest)
	require.Equal(t, transport.KindInvalidMode, env.Error.Kind)

	env = c.apiError(http.MethodPut, "/api/v1/mode", map[string]any{"mode": "supervised", "duration": "5m"}, http.StatusBadRequest)
	require.Equal(t, transport.KindInvalidInput, env.Error.Kind)

	env = c.apiError(http.MethodPut, "/api/v1/mode", map[string]any{"mode": "safe_mode", "duration": "soon"}, http.StatusBadRequest)
	require.Equal(t, transport.KindInvalidInput, env.Error.Kind)

	c.decode(http.MethodPut, "/api/v1/mode", map[string]any{"mode": "notify_only"}, http.StatusOK, &state)
	out = c.record(map[string]any{"source": "scheduler", "action": "restart_db", "actionType": "scheduled"})
	require.Equal(t, mode.AdvisorySkip, out.Decision)
	require.Equal(t, false, out.Activity.ResultDetails["executed"])
}

func TestSupervisedRulesQueue(t *testing.T) {
	ts := testserver.NewWithOptions(t, "token", "alice", testserver.Options{
		InitialMode: mode.Supervised,
		Rules:       []mode.Rule{{Name: "deletes", Action: "delete_*"}},
	})
	c := newClient(t, ts)

	out := c.record(map[string]any{"source": "scheduler", "action": "delete_snapshots", "actionType": "scheduled"})
	require.Equal(t, mode.Queue, out.Decision)
	require.Equal(t, "deletes", out.Rule)

	out = c.record(map[string]any{"source": "scheduler", "action": "rotate_logs", "actionType": "scheduled"})
	require.Equal(t, mode.Execute, out.Decision)
	require.Equal(t, activity.ResultOK, out.Activity.Result)
}
