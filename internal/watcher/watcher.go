// Package watcher debounces change notifications for files the daemon
// reloads at runtime, such as the policy script. Editors produce bursts
// of writes, renames and chmods for a single save; a tracked file is
// reported once, after it has stopped changing for the debounce window.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event reports one tracked file that changed and settled.
type Event struct {
	Path      string
	Timestamp time.Time
}

// Watcher tracks a fixed set of files. Directories are watched rather
// than the files themselves so replace-by-rename saves are seen.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	paths     map[string]bool // absolute tracked paths
	debounce  time.Duration

	// pending: path -> time of the most recent change
	pending   map[string]time.Time
	pendingMu sync.Mutex

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for the given files. The debounce window is how
// long a file must stay unchanged before it is reported.
func New(files []string, debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	paths := make(map[string]bool, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fsWatcher.Close()
			return nil, err
		}
		paths[abs] = true
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		paths:     paths,
		debounce:  debounce,
		pending:   make(map[string]time.Time),
		events:    make(chan Event, 16),
		errors:    make(chan error, 4),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of settled-change events. Closed by Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching the parent directory of every tracked file.
func (w *Watcher) Start() error {
	dirs := make(map[string]bool)
	for path := range w.paths {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.settleLoop()
	return nil
}

// Stop shuts the watcher down and closes the event channel.
func (w *Watcher) Stop() error {
	close(w.done)
	err := w.fsWatcher.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return err
}

// eventLoop marks tracked files dirty as raw notifications arrive.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !w.paths[abs] {
				continue
			}
			w.pendingMu.Lock()
			w.pending[abs] = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// settleLoop reports pending files once they stop changing.
func (w *Watcher) settleLoop() {
	defer w.wg.Done()

	tick := w.debounce / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.reportSettled(now)
		}
	}
}

func (w *Watcher) reportSettled(now time.Time) {
	threshold := now.Add(-w.debounce)

	var settled []string
	w.pendingMu.Lock()
	for path, last := range w.pending {
		if last.Before(threshold) {
			settled = append(settled, path)
		}
	}
	for _, path := range settled {
		delete(w.pending, path)
	}
	w.pendingMu.Unlock()

	for _, path := range settled {
		// A save via rename can leave a window where the file is gone.
		if _, err := os.Stat(path); err != nil {
			continue
		}
		select {
		case w.events <- Event{Path: path, Timestamp: now}:
		case <-w.done:
			return
		}
	}
}

// Tracked returns the absolute paths being watched.
func (w *Watcher) Tracked() []string {
	out := make([]string, 0, len(w.paths))
	for path := range w.paths {
		out = append(out, path)
	}
	return out
}
