package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moolen/depman/internal/logging"
)

// ReloadCallback is called when the runtime file is successfully reloaded.
// If the callback returns an error, it is logged but the watcher continues watching.
type ReloadCallback func(config *RuntimeFile) error

// WatcherConfig holds configuration for the RuntimeWatcher.
type WatcherConfig struct {
	// FilePath is the path to the bundles YAML file to watch
	FilePath string

	// DebounceMillis is the debounce period in milliseconds
	// Multiple file change events within this period will be coalesced into a single reload
	// Default: 500ms
	DebounceMillis int
}

// RuntimeWatcher watches the runtime file for changes and triggers reload
// callbacks with debouncing to prevent reload storms from editor save sequences.
//
// Invalid files during reload are logged but do not stop the watcher; the
// previous valid config stays in effect.
type RuntimeWatcher struct {
	config   WatcherConfig
	callback ReloadCallback
	cancel   context.CancelFunc
	stopped  chan struct{}
	ready    chan struct{} // closed once the fsnotify watcher is initialized
	mu       sync.Mutex
	logger   *logging.Logger

	// debounceTimer is used to coalesce multiple file change events
	debounceTimer *time.Timer
}

// NewRuntimeWatcher creates a new watcher for the given file.
// Returns an error if FilePath is empty or callback is nil.
func NewRuntimeWatcher(config WatcherConfig, callback ReloadCallback) (*RuntimeWatcher, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("FilePath cannot be empty")
	}

	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}

	if config.DebounceMillis == 0 {
		config.DebounceMillis = 500
	}

	return &RuntimeWatcher{
		config:   config,
		callback: callback,
		stopped:  make(chan struct{}),
		ready:    make(chan struct{}),
		logger:   logging.GetLogger("config.watcher").WithField("file", config.FilePath),
	}, nil
}

// Start loads the initial config, calls the callback with it and then
// watches the file for changes in the background.
// Returns an error if initial config load fails or callback returns error.
func (w *RuntimeWatcher) Start(ctx context.Context) error {
	initialConfig, err := LoadRuntimeFile(w.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to load initial config: %w", err)
	}

	if err := w.callback(initialConfig); err != nil {
		return fmt.Errorf("initial callback failed: %w", err)
	}

	w.logger.Info("Loaded initial config")

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.watchLoop(watchCtx)

	// Wait for the watcher to be initialized so early changes are not missed
	select {
	case <-w.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for file watcher to initialize")
	}

	return nil
}

// signalReady safely closes the ready channel exactly once
func (w *RuntimeWatcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *RuntimeWatcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.FilePath); err != nil {
		w.logger.Error("Failed to watch file: %v", err)
		return
	}

	w.logger.Debug("Watching for changes (debounce: %dms)", w.config.DebounceMillis)
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Context cancelled, stopping")
			w.stopTimer()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// Atomic writes replace the inode, so the watch must be re-added
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(w.config.FilePath); err != nil {
					w.logger.Warn("Failed to re-add watch after %s: %v", event.Op, err)
				}
			}
			w.handleFileChange(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error: %v", err)
		}
	}
}

// handleFileChange debounces change events by resetting a timer on each one.
func (w *RuntimeWatcher) handleFileChange(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(
		time.Duration(w.config.DebounceMillis)*time.Millisecond,
		func() {
			w.reloadConfig(ctx)
		},
	)
}

func (w *RuntimeWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
}

// reloadConfig reloads the file and calls the callback if it is valid.
func (w *RuntimeWatcher) reloadConfig(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	w.logger.Info("Reloading config")

	newConfig, err := LoadRuntimeFile(w.config.FilePath)
	if err != nil {
		w.logger.Error("Failed to load config (keeping previous config): %v", err)
		return
	}

	if err := w.callback(newConfig); err != nil {
		w.logger.Error("Reload callback failed (continuing to watch): %v", err)
		return
	}

	w.logger.Info("Config reloaded successfully")
}

// Stop stops the file watcher and waits up to 5 seconds for the watch loop
// to exit.
func (w *RuntimeWatcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}

	select {
	case <-w.stopped:
		w.logger.Debug("Stopped")
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for watcher to stop")
	}
}
