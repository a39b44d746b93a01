package approval

import (
	"context"
	"time"

	"github.com/rpggio/overseer/internal/domain/activity"
)

// Store is the part of the activity store the gate writes through.
type Store interface {
	Append(ctx context.Context, d activity.Draft) (*activity.Activity, error)
	ResolvePending(ctx context.Context, id int64, r activity.Resolution) (*activity.Activity, error)
	Get(ctx context.Context, id int64) (*activity.Activity, error)
	Pending(ctx context.Context) ([]activity.Activity, error)
	Expired(ctx context.Context) ([]activity.Activity, error)
	Now() time.Time
}
