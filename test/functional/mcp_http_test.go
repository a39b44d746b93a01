package functional_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/overseer/internal/domain/mode"
	"github.com/rpggio/overseer/internal/testserver"
	"github.com/stretchr/testify/require"
)

// bearerTransport adds an Authorization header to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (b bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)
	return b.base.RoundTrip(req)
}

func connectHTTP(t *testing.T, ts *testserver.TestServer, token string) (*sdkmcp.ClientSession, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	transport := &sdkmcp.StreamableClientTransport{
		Endpoint:   ts.Server.URL + "/mcp",
		HTTPClient: &http.Client{Transport: bearerTransport{token: token, base: http.DefaultTransport}},
		MaxRetries: -1,
	}
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	t.Cleanup(func() { _ = session.Close() })
	return session, nil
}

func callHTTPTool(t *testing.T, session *sdkmcp.ClientSession, name string, args map[string]any, out any) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if args == nil {
		args = map[string]any{}
	}
	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok)
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(text.Text), out))
	}
	return result.IsError
}

func TestHTTPFunctional_RejectsUnknownToken(t *testing.T) {
	ts := testserver.New(t, "token-1", "alice")

	_, err := connectHTTP(t, ts, "nope")
	require.Error(t, err)
}

func TestHTTPFunctional_ApprovalUsesPrincipal(t *testing.T) {
	ts := testserver.NewWithOptions(t, "token-1", "alice", testserver.Options{
		InitialMode: mode.Supervised,
		Rules:       []mode.Rule{{Name: "deploys", Action: "deploy_*"}},
	})
	session, err := connectHTTP(t, ts, ts.Token)
	require.NoError(t, err)

	var queued mode.Outcome
	require.False(t, callHTTPTool(t, session, "record_activity", map[string]any{
		"source": "scheduler", "action": "deploy_api", "actionType": "scheduled", "target": "api",
	}, &queued))
	require.Equal(t, mode.Queue, queued.Decision)
	require.Equal(t, "deploys", queued.Rule)

	var approved struct {
		Result     string `json:"result"`
		ApprovedBy string `json:"approvedBy"`
	}
	require.False(t, callHTTPTool(t, session, "approve_activity", map[string]any{
		"id": queued.Activity.ID, "approver": "mallory",
	}, &approved))
	require.Equal(t, "approved", approved.Result)
	require.Equal(t, "alice", approved.ApprovedBy)

	// the REST surface sees the same ledger
	got, err := ts.Activities.Get(context.Background(), queued.Activity.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", *got.ApprovedBy)
}

func TestHTTPFunctional_SafeModeRejectsEverything(t *testing.T) {
	ts := testserver.New(t, "token-1", "alice")
	session, err := connectHTTP(t, ts, ts.Token)
	require.NoError(t, err)

	var state mode.State
	require.False(t, callHTTPTool(t, session, "set_mode", map[string]any{"mode": "safe_mode", "duration": "10m"}, &state))
	require.Equal(t, mode.SafeMode, state.Mode)

	var out mode.Outcome
	require.False(t, callHTTPTool(t, session, "record_activity", map[string]any{
		"source": "memory-updater", "action": "compact", "actionType": "autonomous",
	}, &out))
	require.Equal(t, mode.Reject, out.Decision)
	require.Equal(t, "rejected", string(out.Activity.Result))
}
