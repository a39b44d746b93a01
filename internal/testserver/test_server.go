// Package testserver runs the full HTTP stack against an in-memory database.
package testserver

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/rpggio/overseer/internal/domain/approval"
	"github.com/rpggio/overseer/internal/domain/mode"
	"github.com/rpggio/overseer/internal/feed"
	"github.com/rpggio/overseer/internal/mcp"
	"github.com/rpggio/overseer/internal/sqlite"
	"github.com/rpggio/overseer/internal/transport"
	"github.com/stretchr/testify/require"
)

// Options tunes the stack. The zero value is a full_auto server with auth on.
type Options struct {
	DisableAuth     bool
	InitialMode     mode.Mode
	Rules           []mode.Rule
	ApprovalTimeout time.Duration
	Backlog         int
	Heartbeat       time.Duration
	Now             func() time.Time
}

type TestServer struct {
	Server    *httptest.Server
	DB        *sqlite.DB
	Token     string
	Principal string

	Activities *activity.Service
	Approvals  *approval.Service
	Modes      *mode.Controller
	Feed       *feed.Publisher
	Keys       *sqlite.APIKeyRepository
}

// New starts a server with token registered for principal.
func New(t *testing.T, token, principal string) *TestServer {
	return NewWithOptions(t, token, principal, Options{})
}

func NewWithOptions(t *testing.T, token, principal string, opts Options) *TestServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sqlite.New(dsn)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())

	if opts.ApprovalTimeout <= 0 {
		opts.ApprovalTimeout = 30 * time.Minute
	}
	if opts.InitialMode == "" {
		opts.InitialMode = mode.FullAuto
	}

	publisher := feed.New(opts.Backlog, nil)
	storeOpts := []activity.Option{
		activity.WithPublisher(publisher),
		activity.WithApprovalTimeout(opts.ApprovalTimeout),
	}
	modeOpts := []mode.Option{mode.WithInitialMode(opts.InitialMode), mode.WithRules(opts.Rules)}
	if opts.Now != nil {
		storeOpts = append(storeOpts, activity.WithClock(opts.Now))
		modeOpts = append(modeOpts, mode.WithClock(opts.Now))
	}

	store := activity.NewService(sqlite.NewActivityRepository(db), nil, storeOpts...)
	gate := approval.NewService(store, opts.ApprovalTimeout, nil)
	ctrl, err := mode.NewController(context.Background(), sqlite.NewModeRepository(db), store, gate, nil, modeOpts...)
	require.NoError(t, err)

	keys := sqlite.NewAPIKeyRepository(db)
	services := mcp.Services{Ledger: store, Modes: ctrl, Approvals: gate}
	mcpServer := mcp.NewServer(mcp.Config{
		Services:      services,
		Resolver:      keys,
		AuthEnabled:   !opts.DisableAuth,
		TransportMode: "http",
	})

	cfg := transport.Config{
		Ledger:    store,
		Modes:     ctrl,
		Approvals: gate,
		Feed:      publisher,
		MCP:       mcp.HTTPHandler(mcpServer),
		Heartbeat: opts.Heartbeat,
	}
	if !opts.DisableAuth {
		cfg.Auth = transport.AuthMiddleware(keys)
	}
	server := httptest.NewServer(transport.NewServer(cfg))

	ts := &TestServer{
		Server:     server,
		DB:         db,
		Token:      token,
		Principal:  principal,
		Activities: store,
		Approvals:  gate,
		Modes:      ctrl,
		Feed:       publisher,
		Keys:       keys,
	}

	if token != "" {
		require.NoError(t, ts.AddAPIKey(token, principal))
	}

	t.Cleanup(func() {
		publisher.Close()
		server.Close()
		_ = db.Close()
	})

	return ts
}

func (ts *TestServer) AddAPIKey(token, principal string) error {
	return ts.Keys.Add(context.Background(), token, principal, "test")
}
