package mode

import (
	"fmt"
	"path"
	"strings"

	"github.com/rpggio/overseer/internal/domain/activity"
)

// Rule marks drafts that need approval while supervised. Empty fields match
// anything. Action is a path.Match glob, e.g. "restart_*".
type Rule struct {
	Name       string `yaml:"name" toml:"name" json:"name"`
	Action     string `yaml:"action" toml:"action" json:"action,omitempty"`
	Source     string `yaml:"source" toml:"source" json:"source,omitempty"`
	ActionType string `yaml:"action_type" toml:"action_type" json:"actionType,omitempty"`
}

// Matches reports whether the rule applies to d. A malformed glob never matches.
func (r Rule) Matches(d activity.Draft) bool {
	if r.Source != "" && r.Source != string(d.Source) {
		return false
	}
	if r.ActionType != "" && r.ActionType != string(d.ActionType) {
		return false
	}
	if r.Action != "" {
		ok, err := path.Match(r.Action, d.Action)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// ValidateRules checks that every rule is named, has a usable glob and
// references known enum values.
func ValidateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("%w: rule %d has no name", ErrInvalidRule, i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate rule %q", ErrInvalidRule, name)
		}
		seen[name] = struct{}{}
		if r.Action != "" {
			if _, err := path.Match(r.Action, ""); err != nil {
				return fmt.Errorf("%w: rule %q: bad action pattern: %v", ErrInvalidRule, name, err)
			}
		}
		if r.Source != "" && !activity.Source(r.Source).Valid() {
			return fmt.Errorf("%w: rule %q: unknown source %q", ErrInvalidRule, name, r.Source)
		}
		if r.ActionType != "" && !activity.ActionType(r.ActionType).Valid() {
			return fmt.Errorf("%w: rule %q: unknown action type %q", ErrInvalidRule, name, r.ActionType)
		}
	}
	return nil
}

// Decide maps a mode and a draft to a gating decision. It is total over
// every mode and draft, and returns the name of the matching rule, if any.
func Decide(m Mode, d activity.Draft, rules []Rule) (Decision, string) {
	switch m {
	case SafeMode:
		return Reject, ""
	case NotifyOnly:
		return AdvisorySkip, ""
	case Supervised:
		for _, r := range rules {
			if r.Matches(d) {
				return Queue, r.Name
			}
		}
		if d.RequiresApproval {
			return Queue, ""
		}
		return Execute, ""
	default:
		if d.RequiresApproval {
			return Queue, ""
		}
		return Execute, ""
	}
}
