package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rpggio/overseer/internal/domain/mode"
)

const debounceDuration = 100 * time.Millisecond

// RuleWatcher reloads approval rules when the config file changes.
type RuleWatcher struct {
	path   string
	apply  func([]mode.Rule) error
	logger *slog.Logger
}

// NewRuleWatcher creates a watcher for path. apply receives every
// successfully parsed rule set.
func NewRuleWatcher(path string, apply func([]mode.Rule) error, logger *slog.Logger) *RuleWatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RuleWatcher{path: path, apply: apply, logger: logger}
}

// Run blocks until ctx is done. The parent directory is watched so that
// editors which replace the file by rename are still seen.
func (w *RuleWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(debounceDuration)

		case <-debounce.C:
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *RuleWatcher) reload() {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.Warn("ignoring config change", "path", w.path, "error", err)
		return
	}
	if err := w.apply(rules); err != nil {
		w.logger.Warn("rejected approval rules", "path", w.path, "error", err)
		return
	}
	w.logger.Info("approval rules reloaded", "path", w.path, "count", len(rules))
}
