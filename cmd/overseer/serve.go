package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/overseer/internal/config"
	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/rpggio/overseer/internal/domain/approval"
	"github.com/rpggio/overseer/internal/domain/mode"
	"github.com/rpggio/overseer/internal/feed"
	"github.com/rpggio/overseer/internal/mcp"
	"github.com/rpggio/overseer/internal/sqlite"
	"github.com/rpggio/overseer/internal/telemetry"
	"github.com/rpggio/overseer/internal/transport"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger over HTTP (REST, SSE and MCP) or MCP stdio",
		Long: "Start the ledger. The transport comes from transport.mode (OVERSEER_TRANSPORT):\n" +
			"http serves /api/v1, the activity stream and /mcp; stdio serves MCP on stdin/stdout.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := openApp()
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := telemetry.Init(rt.cfg.Telemetry.SentryDSN, version, rt.cfg.Telemetry.Environment); err != nil {
				rt.logger.Warn("error reporting disabled", "error", err)
			}
			return serve(ctx, rt.cfg, rt.db, rt.logger)
		},
	}
}

// serve wires the services and runs every background loop until ctx is done
// or one of them fails.
func serve(ctx context.Context, cfg config.Config, db *sqlite.DB, logger *slog.Logger) error {
	publisher := feed.New(cfg.Feed.Backlog, logger.With("component", "feed"))
	defer publisher.Close()

	timeout := cfg.Approval.Timeout.Std()
	store := activity.NewService(sqlite.NewActivityRepository(db), logger.With("component", "store"),
		activity.WithPublisher(publisher),
		activity.WithApprovalTimeout(timeout),
	)
	gate := approval.NewService(store, timeout, logger.With("component", "approval"))
	ctrl, err := mode.NewController(ctx, sqlite.NewModeRepository(db), store, gate, logger.With("component", "mode"),
		mode.WithInitialMode(cfg.InitialMode()),
		mode.WithRules(cfg.Approval.Rules),
	)
	if err != nil {
		return fmt.Errorf("start mode controller: %w", err)
	}
	keys := sqlite.NewAPIKeyRepository(db)

	mcpServer := mcp.NewServer(mcp.Config{
		Services:      mcp.Services{Ledger: store, Modes: ctrl, Approvals: gate},
		Resolver:      keys,
		AuthEnabled:   cfg.Auth.Enabled,
		TransportMode: cfg.Transport.Mode,
		Version:       version,
		Logger:        logger.With("component", "mcp"),
		OnInternal:    telemetry.Reporter("mcp"),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return approval.NewSweeper(gate, cfg.Approval.SweepInterval.Std(), logger, telemetry.Reporter("sweeper")).Run(ctx)
	})
	g.Go(func() error {
		return activity.NewPruner(store, cfg.Retention.Horizon.Std(), cfg.Retention.Interval.Std(), logger, telemetry.Reporter("retention")).Run(ctx)
	})
	g.Go(func() error {
		return ctrl.Run(ctx)
	})
	if cfg.File != "" {
		g.Go(func() error {
			return config.NewRuleWatcher(cfg.File, ctrl.SetRules, logger).Run(ctx)
		})
	}

	logger.Info("overseer starting",
		"version", version,
		"transport", cfg.Transport.Mode,
		"db", cfg.DB.Path,
		"auth", cfg.Auth.Enabled,
		"rules", len(cfg.Approval.Rules),
	)

	if cfg.Transport.Mode == "stdio" {
		g.Go(func() error {
			// the client closing stdin ends the process
			defer cancel()
			if err := mcpServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				return fmt.Errorf("stdio server: %w", err)
			}
			return nil
		})
		return g.Wait()
	}

	cfgHTTP := transport.Config{
		Ledger:     store,
		Modes:      ctrl,
		Approvals:  gate,
		Feed:       publisher,
		MCP:        mcp.HTTPHandler(mcpServer),
		Logger:     logger.With("component", "http"),
		OnInternal: telemetry.Reporter("http"),
	}
	if cfg.Auth.Enabled {
		cfgHTTP.Auth = transport.AuthMiddleware(keys)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           transport.NewServer(cfgHTTP),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		// open streams end with a "closed" gap frame instead of holding Shutdown
		publisher.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}
