package mode_test

import (
	"testing"

	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/rpggio/overseer/internal/domain/mode"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := mode.ParseMode(" Safe_Mode ")
	require.NoError(t, err)
	require.Equal(t, mode.SafeMode, m)

	_, err = mode.ParseMode("panic")
	require.ErrorIs(t, err, mode.ErrInvalidMode)
	_, err = mode.ParseMode("")
	require.ErrorIs(t, err, mode.ErrInvalidMode)
}

func TestRuleMatches(t *testing.T) {
	rule := mode.Rule{Name: "restarts", Action: "restart_*", Source: "scheduler"}

	d := activity.Draft{Source: activity.SourceScheduler, Action: "restart_nginx", ActionType: activity.TypeScheduled}
	require.True(t, rule.Matches(d))

	d.Source = activity.SourceHuman
	require.False(t, rule.Matches(d))

	d.Source = activity.SourceScheduler
	d.Action = "stop_nginx"
	require.False(t, rule.Matches(d))

	require.True(t, mode.Rule{Name: "all"}.Matches(d))
	require.False(t, mode.Rule{Name: "bad", Action: "["}.Matches(d))
}

func TestValidateRules(t *testing.T) {
	require.NoError(t, mode.ValidateRules(nil))
	require.NoError(t, mode.ValidateRules([]mode.Rule{{Name: "a", Action: "delete_*", ActionType: "autonomous"}}))

	bad := [][]mode.Rule{
		{{Action: "x"}},
		{{Name: "a"}, {Name: "a"}},
		{{Name: "a", Action: "["}},
		{{Name: "a", Source: "cron"}},
		{{Name: "a", ActionType: "reflex"}},
	}
	for _, rules := range bad {
		require.ErrorIs(t, mode.ValidateRules(rules), mode.ErrInvalidRule)
	}
}

func TestDecideIsTotal(t *testing.T) {
	rules := []mode.Rule{{Name: "risky", Action: "delete_*"}}
	drafts := []activity.Draft{
		{Source: activity.SourceScheduler, Action: "backup", ActionType: activity.TypeScheduled},
		{Source: activity.SourceScheduler, Action: "backup", ActionType: activity.TypeScheduled, RequiresApproval: true},
		{Source: activity.SourceModelRouter, Action: "delete_index", ActionType: activity.TypeAutonomous},
		{Source: activity.SourceModelRouter, Action: "delete_index", ActionType: activity.TypeAutonomous, RequiresApproval: true},
	}

	want := map[mode.Mode][]mode.Decision{
		mode.FullAuto:   {mode.Execute, mode.Queue, mode.Execute, mode.Queue},
		mode.Supervised: {mode.Execute, mode.Queue, mode.Queue, mode.Queue},
		mode.NotifyOnly: {mode.AdvisorySkip, mode.AdvisorySkip, mode.AdvisorySkip, mode.AdvisorySkip},
		mode.SafeMode:   {mode.Reject, mode.Reject, mode.Reject, mode.Reject},
	}

	for _, m := range mode.All {
		for i, d := range drafts {
			got, _ := mode.Decide(m, d, rules)
			require.Equal(t, want[m][i], got, "mode %s draft %d", m, i)

			again, _ := mode.Decide(m, d, rules)
			require.Equal(t, got, again)
		}
	}

	_, rule := mode.Decide(mode.Supervised, drafts[2], rules)
	require.Equal(t, "risky", rule)
}
