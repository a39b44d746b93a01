package mode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/qmuntal/stateless"
	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/rpggio/overseer/internal/repository"
	"github.com/sasha-s/go-deadlock"
)

// revertFallback is used when a timed safe_mode has no recorded previous mode.
const revertFallback = Supervised

type trigger string

const triggerRevert trigger = "revert"

func triggerFor(m Mode) trigger {
	return trigger("set_" + string(m))
}

// Controller owns the system mode and applies the gating policy to every
// submitted draft.
type Controller struct {
	repo   Repository
	store  Store
	gate   Gate
	logger *slog.Logger
	now    func() time.Time

	initial Mode

	// mu guards state, rules and every fsm firing. fsm callbacks run with
	// mu held and must not take it.
	mu    deadlock.Mutex
	state State
	rules []Rule
	fsm   *stateless.StateMachine

	wake chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithInitialMode sets the mode used when nothing is persisted yet.
func WithInitialMode(m Mode) Option {
	return func(c *Controller) {
		if m.Valid() {
			c.initial = m
		}
	}
}

// WithRules sets the approval rules consulted in supervised mode.
func WithRules(rules []Rule) Option {
	return func(c *Controller) { c.rules = slices.Clone(rules) }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController loads the persisted mode, or persists the initial one.
func NewController(ctx context.Context, repo Repository, store Store, gate Gate, logger *slog.Logger, opts ...Option) (*Controller, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Controller{
		repo:    repo,
		store:   store,
		gate:    gate,
		logger:  logger,
		now:     time.Now,
		initial: FullAuto,
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := ValidateRules(c.rules); err != nil {
		return nil, err
	}

	st, err := repo.Load(ctx)
	switch {
	case err == nil && st.Mode.Valid():
		c.state = *st
	case err == nil || errors.Is(err, repository.ErrNotFound):
		c.state = State{Mode: c.initial, Since: c.now().UTC()}
		if err := repo.Save(ctx, c.state); err != nil {
			return nil, fmt.Errorf("persisting initial mode: %w", err)
		}
	default:
		return nil, fmt.Errorf("loading mode: %w", err)
	}

	c.fsm = c.buildMachine()
	c.logger.Info("mode controller ready", "mode", c.state.Mode, "since", c.state.Since)
	return c, nil
}

func (c *Controller) buildMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(context.Context) (stateless.State, error) { return c.state.Mode, nil },
		func(_ context.Context, s stateless.State) error {
			c.state.Mode = s.(Mode)
			return nil
		},
		stateless.FiringImmediate,
	)

	for _, from := range All {
		cfg := sm.Configure(from)
		for _, to := range All {
			if to == from {
				cfg.PermitReentry(triggerFor(to))
			} else {
				cfg.Permit(triggerFor(to), to)
			}
		}
	}

	sm.Configure(SafeMode).
		PermitDynamic(triggerRevert, func(context.Context, ...any) (stateless.State, error) {
			if c.state.Previous.Valid() && c.state.Previous != SafeMode {
				return c.state.Previous, nil
			}
			return revertFallback, nil
		}).
		OnEntry(func(context.Context, ...any) error {
			c.logger.Warn("safe mode engaged: autonomous actions are rejected")
			return nil
		}).
		OnExit(func(context.Context, ...any) error {
			c.logger.Info("safe mode lifted")
			return nil
		})

	return sm
}

// Current returns the effective mode, applying a due revert first.
func (c *Controller) Current(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.revertIfDueLocked(ctx); err != nil {
		return c.state, err
	}
	return c.state, nil
}

// SetMode switches the system mode. A positive duration is only valid for
// safe_mode and schedules a revert to the mode that was active before it.
func (c *Controller) SetMode(ctx context.Context, m Mode, d time.Duration) (State, error) {
	if !m.Valid() {
		return State{}, fmt.Errorf("%w: %q", ErrInvalidMode, m)
	}
	if d < 0 {
		return State{}, fmt.Errorf("%w: duration must not be negative", ErrInvalidDuration)
	}
	if d > 0 && m != SafeMode {
		return State{}, fmt.Errorf("%w: only safe_mode accepts a duration", ErrInvalidDuration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.revertIfDueLocked(ctx); err != nil {
		return c.state, err
	}

	prev := c.state
	if err := c.fsm.FireCtx(ctx, triggerFor(m)); err != nil {
		c.state = prev
		return prev, fmt.Errorf("changing mode: %w", err)
	}

	now := c.now().UTC()
	next := State{Mode: m, Since: now, Previous: prev.Mode}
	if m == SafeMode && prev.Mode == SafeMode {
		// re-entering keeps the one-level history pointing at the pre-safe mode
		next.Previous = prev.Previous
		next.Since = prev.Since
	}
	if d > 0 {
		at := now.Add(d)
		next.RevertAt = &at
	}

	if err := c.repo.Save(ctx, next); err != nil {
		c.state = prev
		return prev, fmt.Errorf("persisting mode: %w", err)
	}
	c.state = next
	c.notify()

	c.logger.Info("mode changed", "from", prev.Mode, "to", next.Mode, "revert_at", next.RevertAt)
	return next, nil
}

// revertIfDueLocked performs a timed safe_mode revert once revertAt passed.
func (c *Controller) revertIfDueLocked(ctx context.Context) error {
	st := c.state
	if st.Mode != SafeMode || st.RevertAt == nil || c.now().Before(*st.RevertAt) {
		return nil
	}

	if err := c.fsm.FireCtx(ctx, triggerRevert); err != nil {
		c.state = st
		return fmt.Errorf("reverting safe mode: %w", err)
	}
	next := State{Mode: c.state.Mode, Since: st.RevertAt.UTC(), Previous: SafeMode}
	if err := c.repo.Save(ctx, next); err != nil {
		c.state = st
		return fmt.Errorf("persisting mode revert: %w", err)
	}
	c.state = next
	c.logger.Info("safe mode reverted", "to", next.Mode)
	return nil
}

func (c *Controller) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Rules returns a copy of the active approval rules.
func (c *Controller) Rules() []Rule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.rules)
}

// SetRules replaces the approval rules after validating them.
func (c *Controller) SetRules(rules []Rule) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}
	c.mu.Lock()
	c.rules = slices.Clone(rules)
	c.mu.Unlock()
	c.logger.Info("approval rules updated", "count", len(rules))
	return nil
}

// Submit applies the gating decision for the current mode and records the
// draft accordingly.
func (c *Controller) Submit(ctx context.Context, d activity.Draft) (*Outcome, error) {
	st, err := c.Current(ctx)
	if err != nil {
		return nil, err
	}
	decision, rule := Decide(st.Mode, d, c.Rules())
	out := &Outcome{Decision: decision, Mode: st.Mode, Rule: rule}

	switch decision {
	case Queue:
		d.RequiresApproval = true
		d.Result = activity.ResultPending
		if rule != "" {
			d.ResultDetails = withDetail(d.ResultDetails, "rule", rule)
		}
		pending, err := c.gate.Submit(ctx, d)
		if err != nil {
			return nil, err
		}
		out.Activity = &pending.Activity
		return out, nil

	case Reject:
		d.ResultDetails = gatedDetails(d, "reason", "safe_mode")
		d.RequiresApproval = false
		d.Result = activity.ResultRejected

	case AdvisorySkip:
		d.ResultDetails = gatedDetails(d, "executed", false)
		d.RequiresApproval = false
		d.Result = activity.ResultOK

	default:
		if d.Result == "" {
			d.Result = activity.ResultOK
		}
	}

	a, err := c.store.Append(ctx, d)
	if err != nil {
		return nil, err
	}
	out.Activity = a
	return out, nil
}

// Run performs timed reverts without waiting for the next submission.
func (c *Controller) Run(ctx context.Context) error {
	for {
		c.mu.Lock()
		var wait <-chan time.Time
		var timer *time.Timer
		if c.state.Mode == SafeMode && c.state.RevertAt != nil {
			timer = time.NewTimer(max(c.state.RevertAt.Sub(c.now()), 0))
			wait = timer.C
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case <-c.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-wait:
			if _, err := c.Current(ctx); err != nil {
				c.logger.Error("timed revert failed", "error", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Second):
				}
			}
		}
	}
}

// gatedDetails records that the caller asked for approval the mode did not grant.
func gatedDetails(d activity.Draft, key string, value any) map[string]any {
	details := withDetail(d.ResultDetails, key, value)
	if d.RequiresApproval {
		details["approval_requested"] = true
	}
	return details
}

func withDetail(details map[string]any, key string, value any) map[string]any {
	out := maps.Clone(details)
	if out == nil {
		out = make(map[string]any, 1)
	}
	out[key] = value
	return out
}
