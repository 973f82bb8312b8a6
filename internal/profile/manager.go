package profile

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"layerd/internal/input"
	"layerd/internal/logging"
)

// debounceDelay coalesces bursts of directory events into one reload.
const debounceDelay = 100 * time.Millisecond

// Params are the effective activation parameters for one device after
// profile resolution with config-default fallback.
type Params struct {
	Layer              int
	TimeoutMs          int64
	RequirePriorIdleMs int64
	ExcludedPositions  []int
	Grab               bool

	// Profile is the matched file name, empty when the defaults won.
	Profile string
}

// Manager owns the loaded profile set and resolves devices against it.
// First match in file-name order wins; unmatched devices fall back to
// the defaults handed to NewManager.
type Manager struct {
	dir      string
	defaults Params
	log      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	profiles  []*Profile
	watcher   *fsnotify.Watcher
	debounce  *time.Timer
	callbacks []func()
}

// NewManager creates a manager over the given profiles directory.
func NewManager(dir string, defaults Params) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dir:      dir,
		defaults: defaults,
		log:      logging.Default().WithComponent("profile"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Load scans the profiles directory and swaps in the result. Invalid
// profiles are skipped with a logged error, never fatal.
func (m *Manager) Load() {
	profiles, errs := LoadDir(m.dir)
	for _, err := range errs {
		m.log.Error("skipping profile", "error", err)
	}

	m.mu.Lock()
	m.profiles = profiles
	m.mu.Unlock()

	m.log.Info("profiles loaded",
		"dir", m.dir,
		"count", len(profiles),
		"skipped", len(errs))
}

// SetDefaults swaps the fallback parameters, typically after a config
// reload.
func (m *Manager) SetDefaults(defaults Params) {
	m.mu.Lock()
	m.defaults = defaults
	m.mu.Unlock()
}

// Resolve maps a device to its effective parameters.
func (m *Manager) Resolve(dev input.Device) Params {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.profiles {
		if !p.Matches(dev) {
			continue
		}

		eff := m.defaults
		eff.Layer = p.Layer
		eff.Profile = filepath.Base(p.File)
		if p.TimeoutMs != nil {
			eff.TimeoutMs = *p.TimeoutMs
		}
		if p.RequirePriorIdleMs != nil {
			eff.RequirePriorIdleMs = *p.RequirePriorIdleMs
		}
		if p.ExcludedPositions != nil {
			eff.ExcludedPositions = append([]int(nil), p.ExcludedPositions...)
		} else {
			eff.ExcludedPositions = append([]int(nil), m.defaults.ExcludedPositions...)
		}
		if p.Grab != nil {
			eff.Grab = *p.Grab
		}
		return eff
	}

	eff := m.defaults
	eff.ExcludedPositions = append([]int(nil), m.defaults.ExcludedPositions...)
	return eff
}

// Profiles returns the loaded profiles in match order.
func (m *Manager) Profiles() []*Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Profile(nil), m.profiles...)
}

// OnChange registers a callback invoked after a reload settles.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, fn)
	m.mu.Unlock()
}

// Watch starts watching the profiles directory. Edits, new files and
// deletions all trigger a debounced reload.
func (m *Manager) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("profile: create watcher: %w", err)
	}
	if err := watcher.Add(m.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("profile: watch %s: %w", m.dir, err)
	}

	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()

	go m.watchLoop(watcher)
	return nil
}

func (m *Manager) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			m.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.log.Error("profile watcher error", "error", err)

		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) scheduleReload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.debounce != nil {
		m.debounce.Stop()
	}
	m.debounce = time.AfterFunc(debounceDelay, m.reload)
}

func (m *Manager) reload() {
	if m.ctx.Err() != nil {
		return
	}
	m.Load()

	m.mu.RLock()
	callbacks := append([]func(){}, m.callbacks...)
	m.mu.RUnlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Close stops the watcher. Safe to call more than once.
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	if m.debounce != nil {
		m.debounce.Stop()
	}
	watcher := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	if watcher != nil {
		return watcher.Close()
	}
	return nil
}
