package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rpggio/overseer/internal/repository"
)

// DefaultApprovalTimeout is used when a gated draft carries no timeout.
const DefaultApprovalTimeout = 30 * time.Minute

// Service is the activity store: identity, ordering, resolution and chains.
type Service struct {
	repo      Repository
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	timeout   time.Duration

	// mu orders commits with their hand-off to the publisher. Appends hold it
	// across insert and publish, resolutions across their row update and
	// publish, so the feed sees writes in commit order.
	mu       sync.Mutex
	lastTS   time.Time
	tsLoaded bool
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPublisher sets the feed that receives committed writes.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithApprovalTimeout sets the default expiry for approval-gated drafts.
func WithApprovalTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService creates a new activity store service.
func NewService(repo Repository, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Service{
		repo:    repo,
		logger:  logger,
		now:     time.Now,
		timeout: DefaultApprovalTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.now()
}

// Append validates a draft, assigns identity and timestamp, and persists it.
func (s *Service) Append(ctx context.Context, d Draft) (*Activity, error) {
	if err := ValidateDraft(&d); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tsLoaded {
		last, err := s.repo.LatestTimestamp(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading latest timestamp: %w", err)
		}
		s.lastTS = last
		s.tsLoaded = true
	}

	if d.ParentID != nil {
		ok, err := s.repo.Exists(ctx, *d.ParentID)
		if err != nil {
			return nil, fmt.Errorf("checking parent: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: activity %d does not exist", ErrInvalidParent, *d.ParentID)
		}
	}

	ts := s.now().UTC()
	if ts.Before(s.lastTS) {
		ts = s.lastTS
	}

	a := &Activity{
		Timestamp:              ts,
		Source:                 d.Source,
		SourceRef:              d.SourceRef,
		Action:                 d.Action,
		ActionType:             d.ActionType,
		Target:                 d.Target,
		Params:                 maps.Clone(d.Params),
		DecisionReason:         d.DecisionReason,
		AlternativesConsidered: slices.Clone(d.AlternativesConsidered),
		ParentID:               d.ParentID,
		RequiresApproval:       d.RequiresApproval,
		Result:                 d.Result,
		ResultDetails:          maps.Clone(d.ResultDetails),
	}
	if a.RequiresApproval {
		timeout := d.ApprovalTimeout
		if timeout <= 0 {
			timeout = s.timeout
		}
		expires := ts.Add(timeout)
		a.ExpiresAt = &expires
	}

	if err := s.repo.Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("appending activity: %w", err)
	}
	s.lastTS = ts

	s.publish(EventAppended, a)
	s.logger.Debug("activity appended", "id", a.ID, "action", a.Action, "result", a.Result)
	return a, nil
}

// Resolve applies a terminal transition. Re-applying the exact same
// resolution returns the stored record unchanged.
func (s *Service) Resolve(ctx context.Context, id int64, r Resolution) (*Activity, error) {
	return s.resolve(ctx, id, r, true)
}

// ResolvePending applies a terminal transition and fails with
// ErrAlreadyResolved whenever the activity is no longer pending.
func (s *Service) ResolvePending(ctx context.Context, id int64, r Resolution) (*Activity, error) {
	return s.resolve(ctx, id, r, false)
}

func (s *Service) resolve(ctx context.Context, id int64, r Resolution, idempotent bool) (*Activity, error) {
	if !r.Result.Terminal() {
		return nil, fmt.Errorf("%w: %q is not a terminal result", ErrInvalidState, r.Result)
	}

	a, err := s.commitResolution(ctx, id, r)
	if err == nil {
		s.logger.Debug("activity resolved", "id", a.ID, "result", a.Result)
		return a, nil
	}
	if !errors.Is(err, repository.ErrConflict) && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("resolving activity: %w", err)
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("loading activity: %w", err)
	}
	if idempotent && sameResolution(current, r) {
		return current, nil
	}
	return nil, &AlreadyResolvedError{Current: current}
}

// commitResolution updates the row and publishes the stored record before
// any later commit can publish.
func (s *Service) commitResolution(ctx context.Context, id int64, r Resolution) (*Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Resolve(ctx, id, r, s.now().UTC()); err != nil {
		return nil, err
	}
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading resolved activity: %w", err)
	}
	s.publish(EventResolved, a)
	return a, nil
}

// Get returns a single activity.
func (s *Service) Get(ctx context.Context, id int64) (*Activity, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting activity: %w", err)
	}
	return a, nil
}

// Query lists activities newest first.
func (s *Service) Query(ctx context.Context, f Filter) ([]Activity, error) {
	if err := ValidateFilter(f); err != nil {
		return nil, err
	}
	f.Limit = f.normalizedLimit()
	return s.repo.List(ctx, f)
}

// GetChain walks parent links from id up to its root and returns the chain
// root first. A parent removed by retention ends the walk without error.
func (s *Service) GetChain(ctx context.Context, id int64) ([]Activity, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	chain := []Activity{*cur}
	seen := map[int64]struct{}{cur.ID: {}}
	for cur.ParentID != nil {
		pid := *cur.ParentID
		if _, dup := seen[pid]; dup || pid >= cur.ID {
			s.logger.Warn("malformed causal chain", "id", cur.ID, "parent_id", pid)
			break
		}
		parent, err := s.repo.Get(ctx, pid)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				break
			}
			return nil, fmt.Errorf("walking chain: %w", err)
		}
		chain = append(chain, *parent)
		seen[pid] = struct{}{}
		cur = parent
	}

	slices.Reverse(chain)
	return chain, nil
}

// Pending lists unresolved, unexpired gated activities, soonest expiry first.
func (s *Service) Pending(ctx context.Context) ([]Activity, error) {
	return s.repo.ListPending(ctx, s.now().UTC())
}

// Expired lists gated activities still pending past their expiry.
func (s *Service) Expired(ctx context.Context) ([]Activity, error) {
	return s.repo.ListExpired(ctx, s.now().UTC())
}

// Prune deletes resolved activities older than horizon.
func (s *Service) Prune(ctx context.Context, horizon time.Duration) (int64, error) {
	if horizon <= 0 {
		return 0, fmt.Errorf("%w: retention horizon must be positive", ErrInvalidInput)
	}
	cutoff := s.now().UTC().Add(-horizon)
	n, err := s.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning activities: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned activities", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func (s *Service) publish(kind EventKind, a *Activity) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(kind, *a)
}

func sameResolution(current *Activity, r Resolution) bool {
	if current.Result != r.Result {
		return false
	}
	approver := ""
	if current.ApprovedBy != nil {
		approver = *current.ApprovedBy
	}
	if approver != strings.TrimSpace(r.Approver) {
		return false
	}
	return sameDetails(current.ResultDetails, r.Details)
}
