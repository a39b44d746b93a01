package activity

import (
	"context"
	"time"
)

// Repository provides persistence operations for activities.
type Repository interface {
	// Insert stores a fully populated activity and assigns its ID.
	Insert(ctx context.Context, a *Activity) error
	Get(ctx context.Context, id int64) (*Activity, error)
	Exists(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, filter Filter) ([]Activity, error)
	// Resolve applies a terminal result only if the row is still pending.
	// It returns repository.ErrConflict when the row is not pending.
	Resolve(ctx context.Context, id int64, r Resolution, at time.Time) error
	ListPending(ctx context.Context, now time.Time) ([]Activity, error)
	ListExpired(ctx context.Context, now time.Time) ([]Activity, error)
	LatestTimestamp(ctx context.Context) (time.Time, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher receives committed writes. Implementations must not block.
type Publisher interface {
	Publish(kind EventKind, a Activity)
}
