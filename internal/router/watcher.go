package router

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// RulesWatcher keeps the SourceFile rules of a registry in sync with a rules file.
type RulesWatcher struct {
	path     string
	registry *Registry
}

// NewRulesWatcher creates a watcher for path.
func NewRulesWatcher(path string, registry *Registry) *RulesWatcher {
	return &RulesWatcher{path: path, registry: registry}
}

// Load reads the file once and syncs the registry.
func (w *RulesWatcher) Load() error {
	rules, err := LoadRulesFile(w.path)
	if err != nil {
		return err
	}
	w.registry.Sync(SourceFile, AsRules(rules))
	slog.Info("router: rules loaded", "file", w.path, "count", len(rules))
	return nil
}

// Run watches the file's directory (editors often replace files instead of
// writing in place) and reloads on change until ctx is cancelled. A file that
// fails to parse leaves the previous rules active.
func (w *RulesWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	target := filepath.Clean(w.path)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				debounce = time.After(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("router: rules watcher error", "error", err)
		case <-debounce:
			debounce = nil
			if err := w.Load(); err != nil {
				slog.Warn("router: rules reload failed, keeping previous rules", "file", w.path, "error", err)
			}
		}
	}
}
