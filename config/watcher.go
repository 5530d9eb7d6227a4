package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets how long the file must be quiet before a reload.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// Watcher monitors a config file and calls onChange when its content
// changes. It watches the containing directory so editors that save by
// renaming over the file are picked up.
type Watcher struct {
	source   *FileSource
	debounce time.Duration
	logger   *slog.Logger
	onChange func(ChangeEvent)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	lastHash  string

	mu        sync.Mutex
	lastEvent time.Time // zero when nothing is pending
}

// NewWatcher creates a Watcher for source.
func NewWatcher(source *FileSource, onChange func(ChangeEvent), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source:   source,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start records the current content hash and begins watching.
func (w *Watcher) Start() error {
	hash, err := w.source.Hash(context.Background())
	if err != nil {
		return fmt.Errorf("config watcher: initial hash: %w", err)
	}
	w.lastHash = hash

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: create fsnotify: %w", err)
	}
	w.fsWatcher = fsw

	dir := filepath.Dir(w.source.Path())
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher and waits for its goroutine to exit.
// It is safe to call Stop multiple times.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			// Atomic saves and ConfigMap symlink swaps surface as events on
			// other names in the directory; the hash check filters noise.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.lastEvent = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-ticker.C:
			w.mu.Lock()
			ready := !w.lastEvent.IsZero() && time.Since(w.lastEvent) >= w.debounce
			if ready {
				w.lastEvent = time.Time{}
			}
			w.mu.Unlock()
			if ready {
				w.check()
			}
		}
	}
}

// check reloads the config and calls onChange if the content hash moved.
func (w *Watcher) check() {
	ctx := context.Background()
	path := w.source.Path()

	newHash, err := w.source.Hash(ctx)
	if err != nil {
		w.logger.Error("Config watcher failed to hash config", "path", path, "error", err)
		return
	}
	if newHash == w.lastHash {
		w.logger.Debug("Config content unchanged", "path", path)
		return
	}

	cfg, err := w.source.Load(ctx)
	if err != nil {
		w.logger.Error("Config watcher failed to load config", "path", path, "error", err)
		return
	}

	oldHash := w.lastHash
	w.lastHash = newHash
	w.logger.Info("Config changed", "path", path, "old_hash", oldHash[:8], "new_hash", newHash[:8])

	w.onChange(ChangeEvent{
		Source:  w.source.Name(),
		OldHash: oldHash,
		NewHash: newHash,
		Config:  cfg,
		Time:    time.Now(),
	})
}
