// Package session pauses the engine across desktop lock and system
// sleep by watching logind signals on the D-Bus system bus.
package session

import (
	"sync"

	"github.com/godbus/dbus/v5"

	"layerd/internal/logging"
)

// logind interfaces and the signal names matched on the system bus.
const (
	login1Manager = "org.freedesktop.login1.Manager"
	login1Session = "org.freedesktop.login1.Session"

	sigPrepareForSleep = login1Manager + ".PrepareForSleep"
	sigSessionLock     = login1Session + ".Lock"
	sigSessionUnlock   = login1Session + ".Unlock"
)

// Hold reasons tracked by the watcher.
const (
	holdSleep = "sleep"
	holdLock  = "lock"
)

// Pauser is the engine-side surface the watcher drives.
type Pauser interface {
	Pause()
	Resume()
}

// Config selects which logind transitions pause the engine.
type Config struct {
	PauseOnLock  bool
	PauseOnSleep bool
}

// Watcher holds the engine paused while any of its configured session
// holds (sleep in progress, screen locked) is in effect. Pause fires
// on the first hold, Resume once the last one clears, so an overlap
// like lock-then-sleep wakes up correctly.
type Watcher struct {
	cfg    Config
	target Pauser
	log    *logging.Logger

	mu        sync.Mutex
	conn      *dbus.Conn
	running   bool
	closed    bool
	sleepHeld bool
	lockHeld  bool

	done chan struct{}
}

// NewWatcher creates a watcher driving target per cfg. Call Start to
// connect it to the bus.
func NewWatcher(cfg Config, target Pauser) *Watcher {
	return &Watcher{
		cfg:    cfg,
		target: target,
		log:    logging.Default().WithComponent("session"),
		done:   make(chan struct{}),
	}
}

// Start connects to the system bus and subscribes to the logind
// signals the config asks for. A missing or refusing bus is not an
// error: the watcher degrades to a no-op with a logged warning.
func (w *Watcher) Start() error {
	if !w.cfg.PauseOnLock && !w.cfg.PauseOnSleep {
		return nil
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		w.log.Warn("system bus unavailable, session watcher disabled", "error", err)
		return nil
	}

	matches := [][]dbus.MatchOption{
		{dbus.WithMatchInterface(login1Manager), dbus.WithMatchMember("PrepareForSleep")},
		{dbus.WithMatchInterface(login1Session), dbus.WithMatchMember("Lock")},
		{dbus.WithMatchInterface(login1Session), dbus.WithMatchMember("Unlock")},
	}
	for _, match := range matches {
		if err := conn.AddMatchSignal(match...); err != nil {
			conn.Close()
			w.log.Warn("logind signal match refused, session watcher disabled", "error", err)
			return nil
		}
	}

	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)

	w.mu.Lock()
	w.conn = conn
	w.running = true
	w.mu.Unlock()

	go w.loop(ch)

	w.log.Info("session watcher started",
		"pause_on_lock", w.cfg.PauseOnLock,
		"pause_on_sleep", w.cfg.PauseOnSleep)
	return nil
}

func (w *Watcher) loop(ch chan *dbus.Signal) {
	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				return
			}
			w.handle(sig)
		case <-w.done:
			return
		}
	}
}

// handle dispatches one bus signal. Split out from the loop so the
// transition logic is testable without a bus.
func (w *Watcher) handle(sig *dbus.Signal) {
	if sig == nil {
		return
	}

	switch sig.Name {
	case sigPrepareForSleep:
		if !w.cfg.PauseOnSleep {
			return
		}
		if len(sig.Body) == 0 {
			return
		}
		entering, ok := sig.Body[0].(bool)
		if !ok {
			return
		}
		w.setHold(holdSleep, entering)

	case sigSessionLock:
		if w.cfg.PauseOnLock {
			w.setHold(holdLock, true)
		}

	case sigSessionUnlock:
		if w.cfg.PauseOnLock {
			w.setHold(holdLock, false)
		}
	}
}

// setHold flips one hold and pauses or resumes the target on the
// any-held edge.
func (w *Watcher) setHold(kind string, held bool) {
	w.mu.Lock()
	wasHeld := w.sleepHeld || w.lockHeld
	switch kind {
	case holdSleep:
		w.sleepHeld = held
	case holdLock:
		w.lockHeld = held
	}
	nowHeld := w.sleepHeld || w.lockHeld
	w.mu.Unlock()

	switch {
	case !wasHeld && nowHeld:
		w.log.Info("session hold, pausing", "reason", kind)
		w.target.Pause()
	case wasHeld && !nowHeld:
		w.log.Info("session hold cleared, resuming", "reason", kind)
		w.target.Resume()
	}
}

// Running reports whether the watcher is connected to the bus.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stop disconnects from the bus. Safe to call more than once, and
// before Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	conn := w.conn
	w.conn = nil
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if conn != nil {
		conn.Close()
	}
}
