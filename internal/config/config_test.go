package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rpggio/overseer/internal/domain/mode"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OVERSEER_CONFIG_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "http", cfg.Transport.Mode)
	require.Equal(t, 30*time.Minute, cfg.Approval.Timeout.Std())
	require.Equal(t, 15*time.Second, cfg.Approval.SweepInterval.Std())
	require.Equal(t, 90*24*time.Hour, cfg.Retention.Horizon.Std())
	require.Equal(t, mode.FullAuto, cfg.InitialMode())
	require.Empty(t, cfg.File)
}

func TestLoadYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "overseer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
mode:
  initial: supervised
approval:
  timeout: 5m
  rules:
    - name: deletes
      action: "delete_*"
    - name: router
      source: model-router
      action_type: autonomous
`), 0o644))
	t.Setenv("OVERSEER_CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, mode.Supervised, cfg.InitialMode())
	require.Equal(t, 5*time.Minute, cfg.Approval.Timeout.Std())
	require.Equal(t, 15*time.Second, cfg.Approval.SweepInterval.Std())
	require.Len(t, cfg.Approval.Rules, 2)
	require.Equal(t, "model-router", cfg.Approval.Rules[1].Source)
	require.Equal(t, "autonomous", cfg.Approval.Rules[1].ActionType)
	require.Equal(t, path, cfg.File)
}

func TestLoadTOML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "overseer.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[db]
path = "/var/lib/overseer/ledger.db"

[retention]
horizon = "720h"

[[approval.rules]]
name = "restarts"
action = "restart_*"
`), 0o644))
	t.Setenv("OVERSEER_CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/var/lib/overseer/ledger.db", cfg.DB.Path)
	require.Equal(t, 720*time.Hour, cfg.Retention.Horizon.Std())
	require.Len(t, cfg.Approval.Rules, 1)
	require.Equal(t, "restart_*", cfg.Approval.Rules[0].Action)
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OVERSEER_CONFIG_PATH", "")
	t.Setenv("OVERSEER_SERVER_PORT", "7000")
	t.Setenv("OVERSEER_AUTH_ENABLED", "true")
	t.Setenv("OVERSEER_TRANSPORT", "stdio")
	t.Setenv("OVERSEER_MODE", "safe_mode")
	t.Setenv("OVERSEER_APPROVAL_TIMEOUT", "45m")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "stdio", cfg.Transport.Mode)
	require.Equal(t, mode.SafeMode, cfg.InitialMode())
	require.Equal(t, 45*time.Minute, cfg.Approval.Timeout.Std())
}

func TestDotEnvLoaded(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("OVERSEER_CONFIG_PATH", "")
	// godotenv never overrides a variable that is already set, even to ""
	t.Setenv("OVERSEER_DB_PATH", "")
	require.NoError(t, os.Unsetenv("OVERSEER_DB_PATH"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OVERSEER_DB_PATH=from-dotenv.db\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-dotenv.db", cfg.DB.Path)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OVERSEER_CONFIG_PATH", "")

	cases := map[string]string{
		"OVERSEER_SERVER_PORT":      "abc",
		"OVERSEER_MODE":             "yolo",
		"OVERSEER_TRANSPORT":        "carrier-pigeon",
		"OVERSEER_APPROVAL_TIMEOUT": "soon",
		"OVERSEER_AUTH_ENABLED":     "maybe",
	}
	for env, val := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadRulesRejectsBadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("approval:\n  rules:\n    - action: x\n"), 0o644))

	_, err := LoadRules(path)
	require.ErrorIs(t, err, mode.ErrInvalidRule)
}

func TestRuleWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overseer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("approval:\n  rules: []\n"), 0o644))

	var (
		mu  sync.Mutex
		got []mode.Rule
	)
	w := NewRuleWatcher(path, func(rules []mode.Rule) error {
		mu.Lock()
		defer mu.Unlock()
		got = rules
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register before writing
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("approval:\n  rules:\n    - name: deletes\n      action: delete_*\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].Name == "deletes"
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
