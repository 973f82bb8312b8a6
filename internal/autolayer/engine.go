package autolayer

import (
	"sync"
	"time"

	"layerd/internal/logging"
)

// Engine is the layer toggle state machine. It owns the activation
// state, the tracked toggle layer, and the per-layer deactivation
// timers, and drives the Controller on true activation edges only.
//
// All event entry points are safe for concurrent use; the mutable
// state is serialized under a single mutex shared with the timer-fire
// path.
type Engine struct {
	mu sync.Mutex

	cfg      *Config
	excluded *ExclusionSet
	ctrl     Controller
	timers   *deactivationTimers
	log      *logging.Logger

	// State, guarded by mu.
	toggleLayer  int
	active       bool
	lastTap      int64
	paused       bool
	closed       bool
	lastSuppress SuppressReason

	// gate, when set, is consulted on the inactive->active edge only.
	gate func(layer int) bool

	subscribers []chan Signal
}

// New creates an Engine driving the given controller.
func New(cfg *Config, ctrl Controller) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		excluded: NewExclusionSet(cfg.ExcludedPositions),
		ctrl:     ctrl,
		log:      logging.Default().WithComponent("engine"),
	}
	e.timers = newDeactivationTimers(e.onTimerFire)
	return e, nil
}

// SetGate installs an activation gate consulted on the 0->1 edge.
// Must be set before events flow.
func (e *Engine) SetGate(gate func(layer int) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = gate
}

// Subscribe returns a channel receiving engine signals. The channel is
// closed when the engine closes. Slow subscribers miss signals rather
// than blocking the engine.
func (e *Engine) Subscribe() <-chan Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Signal, 64)
	e.subscribers = append(e.subscribers, ch)
	return ch
}

// OnInput processes a pointer activity event carrying the layer to
// raise and the deactivation timeout for that layer. now is the event
// time in monotonic milliseconds.
//
// The layer is recorded as the toggle target regardless of the current
// state; an activation is attempted only on the inactive edge; the
// timer is (re)armed whenever timeoutMs > 0, even if the activation
// was suppressed. A timeout of zero arms nothing: the layer then stays
// up until a key press cancels it.
func (e *Engine) OnInput(layer int, timeoutMs int64, now int64) error {
	if layer < 0 || layer >= MaxLayers {
		return ErrInvalidLayer
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	if e.active && layer != e.toggleLayer {
		// The engine tracks one toggle layer. Rebinding the target
		// while active emits no signals, so the previously raised
		// layer stays up in the keymap.
		e.log.Warn("toggle target changed while active",
			"previous_layer", e.toggleLayer, "layer", layer)
	}
	e.toggleLayer = layer

	if !e.active {
		if reason := e.suppressReasonLocked(layer, now); reason != "" {
			// One signal per suppression streak, not per pointer event.
			if reason != e.lastSuppress {
				e.lastSuppress = reason
				e.emitLocked(Signal{
					Type:      SignalSuppressed,
					Layer:     layer,
					Reason:    reason,
					Timestamp: time.Now(),
				})
			}
		} else {
			e.setActiveLocked(true, "")
		}
	}

	if timeoutMs > 0 {
		e.timers.Arm(layer, time.Duration(timeoutMs)*time.Millisecond)
	}

	return nil
}

// suppressReasonLocked decides whether an inactive->active edge is
// blocked, and why.
func (e *Engine) suppressReasonLocked(layer int, now int64) SuppressReason {
	if e.paused {
		return SuppressPaused
	}
	if ShouldSuppress(e.lastTap, now, e.cfg.RequirePriorIdleMs) {
		return SuppressQuickTap
	}
	if e.gate != nil && !e.gate(layer) {
		return SuppressPolicy
	}
	return ""
}

// OnKeyTap records the time of a key tap. Modifier taps never reset
// the idle clock, so holding a modifier while mousing does not
// retrigger the guard.
func (e *Engine) OnKeyTap(isModifier bool, timestamp int64) {
	if isModifier {
		return
	}

	e.mu.Lock()
	e.lastTap = timestamp
	e.mu.Unlock()
}

// OnPositionChanged handles a key press or release at a position.
// Releases are ignored. A press at a non-excluded position cancels the
// active layer immediately.
func (e *Engine) OnPositionChanged(position int, pressed bool) {
	if !pressed {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active && !e.excluded.Contains(position) {
		e.setActiveLocked(false, CauseKey)
	}
}

// onTimerFire runs when a per-layer deactivation timer expires.
func (e *Engine) onTimerFire(layer int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	// Another path may have dropped the layer between the arm and the
	// fire; only proceed while the keymap still shows it active.
	if e.ctrl.IsLayerActive(layer) {
		e.setActiveLocked(false, CauseTimeout)
	}
}

// setActiveLocked flips the activation state and signals the edge.
// Idempotent: no-op when the state already matches, so duplicate
// activate/deactivate signals cannot be emitted.
func (e *Engine) setActiveLocked(activate bool, cause Cause) {
	if e.active == activate {
		return
	}

	e.active = activate
	e.lastSuppress = ""

	if activate {
		e.ctrl.ActivateLayer(e.toggleLayer)
		e.emitLocked(Signal{
			Type:      SignalActivated,
			Layer:     e.toggleLayer,
			Timestamp: time.Now(),
		})
		e.log.Debug("layer activated", "layer", e.toggleLayer)
	} else {
		e.ctrl.DeactivateLayer(e.toggleLayer)
		e.emitLocked(Signal{
			Type:      SignalDeactivated,
			Layer:     e.toggleLayer,
			Cause:     cause,
			Timestamp: time.Now(),
		})
		e.log.Debug("layer deactivated", "layer", e.toggleLayer, "cause", string(cause))
	}
}

// emitLocked sends a signal to all subscribers without blocking.
func (e *Engine) emitLocked(sig Signal) {
	for _, ch := range e.subscribers {
		select {
		case ch <- sig:
		default:
			// Skip slow subscribers
		}
	}
}

// Pause drops any active layer and gates new activations until Resume.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return
	}
	e.paused = true
	e.lastSuppress = ""

	if e.active {
		e.setActiveLocked(false, CausePause)
	}
}

// Resume lifts a pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.paused = false
	e.lastSuppress = ""
}

// Paused reports whether the engine is paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Reconfigure swaps the guard threshold and exclusion set. Activation
// state and armed timers are left untouched.
func (e *Engine) Reconfigure(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg
	e.excluded = NewExclusionSet(cfg.ExcludedPositions)
	return nil
}

// Status is a point-in-time snapshot of the engine state.
type Status struct {
	Active    bool  `json:"active"`
	Layer     int   `json:"layer"`
	Paused    bool  `json:"paused"`
	LastTapMs int64 `json:"last_tap_ms"`
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Status{
		Active:    e.active,
		Layer:     e.toggleLayer,
		Paused:    e.paused,
		LastTapMs: e.lastTap,
	}
}

// Close stops all timers, drops any active layer, and closes
// subscriber channels. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true

	if e.active {
		e.setActiveLocked(false, CauseShutdown)
	}

	subs := e.subscribers
	e.subscribers = nil
	e.mu.Unlock()

	e.timers.StopAll()

	for _, ch := range subs {
		close(ch)
	}
}
