package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rpggio/overseer/internal/repository"
	"github.com/sethvargo/go-retry"
)

const (
	busyRetries  = 5
	busyBase     = 10 * time.Millisecond
	busyMaxDelay = 250 * time.Millisecond
)

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// withBusyRetry reruns fn while SQLite reports the database as locked.
func withBusyRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(busyRetries,
		retry.WithCappedDuration(busyMaxDelay, retry.NewExponential(busyBase)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if isBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if isBusy(err) {
		return fmt.Errorf("%w: %v", repository.ErrBusy, err)
	}
	return err
}
