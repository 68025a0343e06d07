package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the rule set whenever a rule document in the loader's
// directory changes.
type Watcher struct {
	loader   *Loader
	logger   *zap.Logger
	debounce time.Duration

	mu      sync.RWMutex
	current *RuleSet
}

// NewWatcher creates a watcher seeded with an initial load.
func NewWatcher(loader *Loader, logger *zap.Logger) *Watcher {
	return &Watcher{
		loader:   loader,
		logger:   logger,
		debounce: 200 * time.Millisecond,
		current:  loader.Load(),
	}
}

// Current returns the latest rule set.
func (w *Watcher) Current() *RuleSet {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Reload reloads the rule documents immediately.
func (w *Watcher) Reload() *RuleSet {
	rs := w.loader.Load()
	w.mu.Lock()
	w.current = rs
	w.mu.Unlock()
	return rs
}

// Run watches the rules directory until ctx is done. onChange, if non-nil, is
// called with every reloaded rule set.
func (w *Watcher) Run(ctx context.Context, onChange func(*RuleSet)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.loader.Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.loader.Dir, err)
	}

	watched := map[string]bool{
		filepath.Clean(w.loader.BasePath()):     true,
		filepath.Clean(w.loader.OverridePath()): true,
	}

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			// Atomic swaps produce bursts of events.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			rs := w.Reload()
			w.logger.Info("Rules reloaded", zap.Any("counts", rs.Counts()))
			if onChange != nil {
				onChange(rs)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Rule watcher error", zap.Error(err))
		}
	}
}
