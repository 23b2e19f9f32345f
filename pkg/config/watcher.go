package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher watches the configuration file and reloads it on change.
// The server uses it to rebuild the host override table at runtime.
type Watcher struct {
	path     string
	cfg      *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	logger   *slog.Logger
	debounce time.Duration
	reloads  int
}

// NewWatcher creates a new configuration file watcher
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	return &Watcher{
		path:     path,
		cfg:      cfg,
		watcher:  watcher,
		logger:   logger,
		debounce: defaultDebounce,
	}, nil
}

// Config returns the current configuration (thread-safe)
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Reloads returns how many times the file was reloaded successfully
func (w *Watcher) Reloads() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reloads
}

// OnChange registers a callback invoked with every successfully reloaded
// configuration. It must be set before Start.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.onChange = fn
}

// Start watches the configuration file until ctx is done
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting config file watcher", "path", w.path)

	// Editors often write several times in a row
	debounceTimer := time.NewTimer(0)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Config watcher stopped")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}

			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				debounceTimer.Reset(w.debounce)
			case event.Op&(fsnotify.Rename|fsnotify.Remove) != 0:
				// Atomic saves replace the inode; the old watch is gone.
				if err := w.rearm(); err != nil {
					w.logger.Warn("Config file disappeared, keeping current config", "path", w.path, "error", err)
					continue
				}
				debounceTimer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-debounceTimer.C:
			if err := w.reload(); err != nil {
				w.logger.Error("Failed to reload config", "error", err)
				continue
			}
			w.logger.Info("Config reloaded successfully", "path", w.path)
			if w.onChange != nil {
				w.onChange(w.Config())
			}
		}
	}
}

// rearm re-adds the watch after the file was replaced
func (w *Watcher) rearm() error {
	_ = w.watcher.Remove(w.path)
	for attempt := 0; attempt < 5; attempt++ {
		if err := w.watcher.Add(w.path); err == nil {
			return nil
		}
		time.Sleep(w.debounce / 5)
	}
	return w.watcher.Add(w.path)
}

// reload reloads the configuration from file
func (w *Watcher) reload() error {
	newCfg, err := Load(w.path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	w.mu.Lock()
	w.cfg = newCfg
	w.reloads++
	w.mu.Unlock()

	return nil
}

// Close stops the watcher
func (w *Watcher) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
