package autolayer

import (
	"errors"
	"sync"

	"layerd/internal/input"
	"layerd/internal/logging"
)

// Disposition tells an event loop what to do with an event after a
// router has seen it.
type Disposition int

const (
	// Continue passes the event on to the next consumer. Routing
	// never consumes events itself; Consumed exists for callers that
	// chain routers with grabbing sources.
	Continue Disposition = iota
	Consumed
)

// ModifierFunc reports whether a key code is a modifier. Modifier
// taps do not count as typing for the quick-tap guard.
type ModifierFunc func(code uint16) bool

// Router binds one device's event stream to the engine, carrying the
// per-device activation parameters. Pointer activity maps to
// OnInput with the router's layer and timeout; key presses feed the
// tap clock and the cancel-on-key path.
type Router struct {
	mu        sync.Mutex
	layer     int
	timeoutMs int64

	engine     *Engine
	isModifier ModifierFunc
	log        *logging.Logger
}

// NewRouter creates a router feeding the engine with the given
// activation parameters.
func NewRouter(engine *Engine, layer int, timeoutMs int64, isModifier ModifierFunc) *Router {
	return &Router{
		layer:      layer,
		timeoutMs:  timeoutMs,
		engine:     engine,
		isModifier: isModifier,
		log:        logging.Default().WithComponent("router"),
	}
}

// Update swaps the activation parameters, typically after a profile
// reload. In-flight events see either the old or the new pair, never
// a mix.
func (r *Router) Update(layer int, timeoutMs int64) {
	r.mu.Lock()
	r.layer = layer
	r.timeoutMs = timeoutMs
	r.mu.Unlock()
}

// Route dispatches an event to the matching handler.
func (r *Router) Route(ev input.Event) Disposition {
	switch ev.Type {
	case input.EventPointer:
		return r.HandlePointer(ev.When)
	case input.EventKey:
		return r.HandleKey(ev.Code, ev.Pressed, ev.When)
	case input.EventPosition:
		return r.HandlePosition(ev.Position, ev.Pressed)
	}
	return Continue
}

// HandlePointer reports pointer activity to the engine.
func (r *Router) HandlePointer(now int64) Disposition {
	r.mu.Lock()
	layer, timeout := r.layer, r.timeoutMs
	r.mu.Unlock()

	if err := r.engine.OnInput(layer, timeout, now); err != nil {
		if errors.Is(err, ErrInvalidLayer) {
			r.log.Error("configured layer out of range", "layer", layer)
		} else {
			r.log.Error("input event rejected", "error", err)
		}
	}
	return Continue
}

// HandleKey feeds key presses into the tap clock. Releases carry no
// typing signal and are dropped here.
func (r *Router) HandleKey(code uint16, pressed bool, now int64) Disposition {
	if !pressed {
		return Continue
	}

	mod := r.isModifier != nil && r.isModifier(code)
	r.engine.OnKeyTap(mod, now)
	return Continue
}

// HandlePosition feeds position state changes into the cancel-on-key
// path.
func (r *Router) HandlePosition(position int, pressed bool) Disposition {
	r.engine.OnPositionChanged(position, pressed)
	return Continue
}
