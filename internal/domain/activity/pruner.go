package activity

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultRetentionHorizon  = 90 * 24 * time.Hour
	DefaultRetentionInterval = time.Hour
)

// Pruner enforces the retention horizon on a ticker.
type Pruner struct {
	store    *Service
	horizon  time.Duration
	interval time.Duration
	logger   *slog.Logger
	onError  func(error)
}

// NewPruner creates a retention loop. onError may be nil.
func NewPruner(store *Service, horizon, interval time.Duration, logger *slog.Logger, onError func(error)) *Pruner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if horizon <= 0 {
		horizon = DefaultRetentionHorizon
	}
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	return &Pruner{store: store, horizon: horizon, interval: interval, logger: logger, onError: onError}
}

// Run prunes once immediately and then every interval until ctx is done.
func (p *Pruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.store.Prune(ctx, p.horizon); err != nil && ctx.Err() == nil {
			p.logger.Error("retention prune failed", "error", err)
			if p.onError != nil {
				p.onError(err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
