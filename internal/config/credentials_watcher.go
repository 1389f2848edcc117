package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for debouncing file system events.
const DebounceDelay = 100 * time.Millisecond

// CredentialsWatcher monitors the credentials file for rotation. The
// platform login flow replaces the file whenever the agent re-authenticates
// in the browser; the console picks the new token up for its next connect.
//
// The parent directory is watched rather than the file itself so that
// atomic rename-into-place rotations are observed.
type CredentialsWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func()
	logger   *slog.Logger

	debounceMu    sync.Mutex
	debounceDelay time.Duration
	debounceTimer *time.Timer

	done    chan struct{}
	stopped chan struct{}
}

// NewCredentialsWatcher creates a watcher for the given credentials path.
// onChange is invoked (debounced) after the file is written, created or
// renamed. Call Start() to begin watching and Close() when done.
func NewCredentialsWatcher(path string, onChange func(), logger *slog.Logger) (*CredentialsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialsWatcher{
		watcher:       watcher,
		path:          path,
		onChange:      onChange,
		logger:        logger,
		debounceDelay: DebounceDelay,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}, nil
}

// SetDebounceDelay sets the debounce delay. Must be called before Start().
func (w *CredentialsWatcher) SetDebounceDelay(d time.Duration) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	w.debounceDelay = d
}

// Start adds the directory watch and begins the event loop.
func (w *CredentialsWatcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.eventLoop()
	return nil
}

// Close stops the watcher and releases resources. After Close returns, no
// more onChange callbacks are delivered.
func (w *CredentialsWatcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
	return err
}

func (w *CredentialsWatcher) eventLoop() {
	defer close(w.stopped)

	base := filepath.Base(w.path)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("credentials file changed", "op", event.Op.String())
			w.scheduleNotify()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("credentials watcher error", "error", err)
		}
	}
}

// scheduleNotify debounces bursts of events into a single callback.
func (w *CredentialsWatcher) scheduleNotify() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, func() {
		select {
		case <-w.done:
			return
		default:
		}
		w.onChange()
	})
}
