package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rpggio/overseer/internal/config"
	"github.com/rpggio/overseer/internal/sqlite"
	"github.com/spf13/cobra"
)

// newRootCmd creates the root overseer command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "overseer",
		Short:         "Audit ledger and approval gate for autonomous actions",
		Long:          "overseer records every action taken by autonomous components, gates risky ones behind\nhuman approval and lets an operator switch the whole system into safer modes.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("overseer {{.Version}}\n")

	cmd.AddCommand(
		newServeCmd(),
		newPruneCmd(),
		newKeysCmd(),
	)

	return cmd
}

// app is what every subcommand needs: config, a logger and the database.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	db     *sqlite.DB
	closer []io.Closer
}

func (r *app) Close() {
	for i := len(r.closer) - 1; i >= 0; i-- {
		_ = r.closer[i].Close()
	}
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	rt := &app{cfg: cfg}

	// Use stderr for logs in stdio mode to keep stdout clean for JSON-RPC.
	logWriter := io.Writer(os.Stdout)
	if cfg.Transport.Mode == "stdio" {
		logWriter = os.Stderr
	}
	if logPath := os.Getenv("OVERSEER_LOG_PATH"); logPath != "" {
		fileWriter, file, err := newLogFileWriter(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			rt.closer = append(rt.closer, file)
			logWriter = fileWriter
		}
	}
	rt.logger = slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := ensureDBDir(cfg.DB.Path); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to prepare database path: %w", err)
	}
	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closer = append(rt.closer, db)
	rt.db = db

	if err := db.RunMigrations(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
