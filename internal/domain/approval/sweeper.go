package approval

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the sweeper looks for expired approvals.
const DefaultSweepInterval = 15 * time.Second

// Sweeper runs Sweep on a ticker.
type Sweeper struct {
	gate     *Service
	interval time.Duration
	logger   *slog.Logger
	onError  func(error)
}

// NewSweeper creates a sweeper for gate. onError may be nil.
func NewSweeper(gate *Service, interval time.Duration, logger *slog.Logger, onError func(error)) *Sweeper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{gate: gate, interval: interval, logger: logger, onError: onError}
}

// Run sweeps once immediately and then every interval until ctx is done.
// A failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	if _, err := s.gate.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("approval sweep failed", "error", err)
		if s.onError != nil {
			s.onError(err)
		}
	}
}
