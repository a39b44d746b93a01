package mode

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpggio/overseer/internal/domain/activity"
)

// Mode is the process-wide automation mode.
type Mode string

const (
	FullAuto   Mode = "full_auto"
	Supervised Mode = "supervised"
	NotifyOnly Mode = "notify_only"
	SafeMode   Mode = "safe_mode"
)

// All lists every mode.
var All = []Mode{FullAuto, Supervised, NotifyOnly, SafeMode}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case FullAuto, Supervised, NotifyOnly, SafeMode:
		return true
	}
	return false
}

// ParseMode converts a user supplied string into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q (expected one of full_auto, supervised, notify_only, safe_mode)", ErrInvalidMode, s)
	}
	return m, nil
}

// State is the persisted system mode.
type State struct {
	Mode     Mode       `json:"mode"`
	Since    time.Time  `json:"since"`
	RevertAt *time.Time `json:"revertAt,omitempty"`
	// Previous is the mode a timed safe_mode returns to.
	Previous Mode `json:"previous,omitempty"`
}

// Decision is the gating verdict for one submitted draft.
type Decision string

const (
	Execute      Decision = "execute"
	Queue        Decision = "queue"
	Reject       Decision = "reject"
	AdvisorySkip Decision = "advisory_skip"
)

// Outcome is what Submit did with a draft.
type Outcome struct {
	Decision Decision           `json:"decision"`
	Mode     Mode               `json:"mode"`
	Rule     string             `json:"rule,omitempty"`
	Activity *activity.Activity `json:"activity"`
}
