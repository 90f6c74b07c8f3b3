package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay batches rapid filesystem events into one reload.
const DebounceDelay = 100 * time.Millisecond

// Watcher monitors the rc file and reloads it when it changes. Editors that
// write-via-rename are handled by watching the containing directory rather
// than the file itself.
//
// All public methods are safe for concurrent use.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	// onChange receives the freshly parsed config after each reload.
	onChange func(*Config)

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	startMu sync.Mutex
	started bool

	done    chan struct{}
	stopped chan struct{}
}

// NewWatcher creates a watcher for the config file at path. onChange runs on
// the watcher goroutine after each successful reload; parse failures are
// logged and the previous config stays in effect.
func NewWatcher(path string, logger *slog.Logger, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		watcher:  fsw,
		logger:   logger,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	return w, nil
}

// Start begins the event processing loop. Calling it more than once is a
// no-op.
func (w *Watcher) Start() {
	w.startMu.Lock()
	started := w.started
	w.started = true
	w.startMu.Unlock()
	if started {
		return
	}
	go w.eventLoop()
}

// Close stops the watcher. No reloads are delivered after Close returns.
// Closing a watcher that was never started just releases its resources.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()

	w.startMu.Lock()
	started := w.started
	w.startMu.Unlock()
	if started {
		<-w.stopped
	}
	return err
}

func (w *Watcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(DebounceDelay, w.reload)
	w.debounceMu.Unlock()
}

func (w *Watcher) reload() {
	w.debounceMu.Lock()
	w.debounceTimer = nil
	w.debounceMu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config",
			"path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	w.onChange(cfg)
}
