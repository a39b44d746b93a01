package approval

import (
	"time"

	"github.com/rpggio/overseer/internal/domain/activity"
)

// DetailExpired is the resultDetails.reason written by expiry.
const DetailExpired = "expired"

// PendingApproval is a gated activity awaiting a human decision.
type PendingApproval struct {
	Activity  activity.Activity `json:"activity"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

func newPending(a *activity.Activity) *PendingApproval {
	p := &PendingApproval{Activity: *a}
	if a.ExpiresAt != nil {
		p.ExpiresAt = *a.ExpiresAt
	}
	return p
}
