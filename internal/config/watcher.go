package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher calls onChange after the watched file is written, created or
// renamed into place. Bursts of events collapse into one call.
type Watcher struct {
	path     string
	onChange func()
	logger   *slog.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}

	mu    sync.Mutex
	timer *time.Timer

	closeOnce sync.Once
}

// NewWatcher creates a watcher for path. Call Start to begin watching.
func NewWatcher(path string, onChange func(), logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
		logger:   logger.With("component", "config_watcher"),
		debounce: defaultDebounce,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start watches the file's directory so editors that replace the file are seen.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			w.logger.Error("failed to close watcher", "error", closeErr)
		}
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.watcher = watcher

	go w.loop()
	w.logger.Info("watching custom config", "path", w.path)
	return nil
}

func (w *Watcher) loop() {
	defer close(w.done)

	name := filepath.Base(w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.logger.Info("custom config changed", "path", w.path)
		w.onChange()
	})
}

// Close stops watching. Pending callbacks are cancelled.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		if w.watcher != nil {
			err = w.watcher.Close()
			<-w.done
		}
	})
	return err
}
