package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rpggio/overseer/internal/domain/activity"
)

// Service is the approval gate. Exactly one of approve, reject or expiry
// wins for any pending activity; the store's conditional resolve decides.
type Service struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration
}

// NewService creates a new approval gate. A non-positive timeout means
// activity.DefaultApprovalTimeout.
func NewService(store Store, timeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = activity.DefaultApprovalTimeout
	}
	return &Service{store: store, logger: logger, timeout: timeout}
}

// Submit records d as a pending approval and computes its expiry.
func (s *Service) Submit(ctx context.Context, d activity.Draft) (*PendingApproval, error) {
	d.RequiresApproval = true
	if d.ApprovalTimeout <= 0 {
		d.ApprovalTimeout = s.timeout
	}
	a, err := s.store.Append(ctx, d)
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval requested", "id", a.ID, "action", a.Action, "expires_at", a.ExpiresAt)
	return newPending(a), nil
}

// Approve resolves a pending activity as approved.
func (s *Service) Approve(ctx context.Context, id int64, approver, comment string) (*activity.Activity, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrInvalidInput)
	}
	var details map[string]any
	if comment = strings.TrimSpace(comment); comment != "" {
		details = map[string]any{"comment": comment}
	}
	a, err := s.decide(ctx, id, activity.Resolution{
		Result:   activity.ResultApproved,
		Details:  details,
		Approver: approver,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("activity approved", "id", id, "approver", approver)
	return a, nil
}

// Reject resolves a pending activity as rejected.
func (s *Service) Reject(ctx context.Context, id int64, approver, reason string) (*activity.Activity, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrInvalidInput)
	}
	var details map[string]any
	if reason = strings.TrimSpace(reason); reason != "" {
		details = map[string]any{"reason": reason}
	}
	a, err := s.decide(ctx, id, activity.Resolution{
		Result:   activity.ResultRejected,
		Details:  details,
		Approver: approver,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("activity rejected", "id", id, "approver", approver)
	return a, nil
}

// ListPending returns unresolved, unexpired approvals, soonest expiry first.
func (s *Service) ListPending(ctx context.Context) ([]PendingApproval, error) {
	entries, err := s.store.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending approvals: %w", err)
	}
	out := make([]PendingApproval, 0, len(entries))
	for i := range entries {
		out = append(out, *newPending(&entries[i]))
	}
	return out, nil
}

// Sweep rejects every pending approval past its expiry and returns how many
// it resolved. Entries resolved concurrently by someone else are skipped.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	expired, err := s.store.Expired(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing expired approvals: %w", err)
	}

	var (
		count int
		errs  []error
	)
	for i := range expired {
		_, won, err := s.expire(ctx, &expired[i])
		if err != nil {
			errs = append(errs, fmt.Errorf("expiring activity %d: %w", expired[i].ID, err))
			continue
		}
		if won {
			count++
		}
	}
	if count > 0 {
		s.logger.Info("expired pending approvals", "count", count)
	}
	return count, errors.Join(errs...)
}

func (s *Service) decide(ctx context.Context, id int64, res activity.Resolution) (*activity.Activity, error) {
	cur, err := s.store.Get(ctx, id)
	if errors.Is(err, activity.ErrNotFound) {
		return nil, &NotPendingError{ID: id, Reason: ReasonUnknown}
	}
	if err != nil {
		return nil, err
	}
	if !cur.IsPending() {
		return nil, &NotPendingError{ID: id, Reason: reasonFor(cur), Current: cur}
	}

	// passive expiry: an entry past its deadline cannot be decided even if
	// the sweeper has not reached it yet
	if cur.Expired(s.store.Now()) {
		current, _, err := s.expire(ctx, cur)
		if err != nil {
			return nil, err
		}
		return nil, &NotPendingError{ID: id, Reason: reasonFor(current), Current: current}
	}

	a, err := s.store.ResolvePending(ctx, id, res)
	var already *activity.AlreadyResolvedError
	switch {
	case errors.As(err, &already):
		return nil, &NotPendingError{ID: id, Reason: reasonFor(already.Current), Current: already.Current}
	case errors.Is(err, activity.ErrNotFound):
		return nil, &NotPendingError{ID: id, Reason: ReasonUnknown}
	case err != nil:
		return nil, err
	}
	return a, nil
}

// expire resolves a to rejected/expired. won is false when another
// resolution got there first; the returned record is the stored one.
func (s *Service) expire(ctx context.Context, a *activity.Activity) (*activity.Activity, bool, error) {
	resolved, err := s.store.ResolvePending(ctx, a.ID, activity.Resolution{
		Result:  activity.ResultRejected,
		Details: map[string]any{"reason": DetailExpired},
	})
	var already *activity.AlreadyResolvedError
	if errors.As(err, &already) {
		return already.Current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.logger.Debug("approval expired", "id", a.ID)
	return resolved, true, nil
}

func reasonFor(a *activity.Activity) NotPendingReason {
	if a == nil {
		return ReasonUnknown
	}
	if IsExpired(a) {
		return ReasonExpired
	}
	return ReasonResolved
}

// IsExpired reports whether a was closed by expiry rather than by a person.
func IsExpired(a *activity.Activity) bool {
	return a.RequiresApproval &&
		a.Result == activity.ResultRejected &&
		a.ApprovedBy == nil &&
		a.ResultDetails["reason"] == DetailExpired
}
