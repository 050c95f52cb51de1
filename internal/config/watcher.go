package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file into a Store when it changes on disk.
// Only the cluster backoff section is applied live; everything else is kept
// from the running configuration because it was consumed at startup.
type Watcher struct {
	path   string
	store  *Store
	logger *slog.Logger
	digest string
}

// NewWatcher creates a watcher for path feeding store.
func NewWatcher(path string, store *Store, logger *slog.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	digest, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:   absPath,
		store:  store,
		logger: logger.With("component", "config-watcher"),
		digest: digest,
	}, nil
}

// Run watches until ctx is cancelled. The parent directory is watched so that
// editors replacing the file atomically are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

// reload re-reads the file; unchanged content and invalid configs are ignored.
func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "error", err)
		return
	}
	digest := HashBytes(data)
	if digest == w.digest {
		return
	}

	next, err := Parse(data)
	if err != nil {
		w.logger.Warn("config reload rejected", "error", err)
		return
	}
	w.digest = digest

	merged := *w.store.Get()
	merged.WS.Backoff = next.WS.Backoff
	w.store.Set(&merged)
	w.logger.Info("config reloaded",
		"backoff_threshold", merged.BackoffThreshold(),
		"backoff_interval", merged.BackoffInterval(),
		"backoff_duration", merged.BackoffDuration(),
	)
}
