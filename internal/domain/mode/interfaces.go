package mode

import (
	"context"

	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/rpggio/overseer/internal/domain/approval"
)

// Repository persists the singleton mode state.
type Repository interface {
	// Load returns repository.ErrNotFound when no state was ever saved.
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, st State) error
}

// Store records activities that do not need a human decision.
type Store interface {
	Append(ctx context.Context, d activity.Draft) (*activity.Activity, error)
}

// Gate queues activities for approval.
type Gate interface {
	Submit(ctx context.Context, d activity.Draft) (*approval.PendingApproval, error)
}
