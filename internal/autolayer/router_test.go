package autolayer

import (
	"testing"
	"time"

	"layerd/internal/input"
)

func TestRouterPointerActivates(t *testing.T) {
	eng, ctrl := newTestEngine(t, nil)
	sigs := eng.Subscribe()

	r := NewRouter(eng, 2, 0, nil)
	d := r.Route(input.Event{Type: input.EventPointer, When: 100})
	if d != Continue {
		t.Errorf("Route() = %v, want Continue", d)
	}

	waitSignal(t, sigs, SignalActivated)
	if !ctrl.IsLayerActive(2) {
		t.Error("layer 2 not active after pointer event")
	}
}

func TestRouterKeyFeedsTapClock(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	sigs := eng.Subscribe()

	r := NewRouter(eng, 2, 0, nil)
	r.Route(input.Event{Type: input.EventKey, Code: 30, Pressed: true, When: 50})

	// Pointer right after typing is inside the idle window.
	r.Route(input.Event{Type: input.EventPointer, When: 100})
	sig := waitSignal(t, sigs, SignalSuppressed)
	if sig.Reason != SuppressQuickTap {
		t.Errorf("expected quicktap suppression, got %q", sig.Reason)
	}
}

func TestRouterKeyReleaseIgnored(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	sigs := eng.Subscribe()

	r := NewRouter(eng, 2, 0, nil)
	r.Route(input.Event{Type: input.EventKey, Code: 30, Pressed: false, When: 50})
	r.Route(input.Event{Type: input.EventPointer, When: 100})

	// The release must not have armed the guard.
	waitSignal(t, sigs, SignalActivated)
}

func TestRouterModifierKey(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	sigs := eng.Subscribe()

	isMod := func(code uint16) bool { return code == 29 }
	r := NewRouter(eng, 2, 0, isMod)

	r.Route(input.Event{Type: input.EventKey, Code: 29, Pressed: true, When: 50})
	r.Route(input.Event{Type: input.EventPointer, When: 100})

	waitSignal(t, sigs, SignalActivated)
}

func TestRouterPositionCancels(t *testing.T) {
	eng, ctrl := newTestEngine(t, nil)
	sigs := eng.Subscribe()

	r := NewRouter(eng, 2, 0, nil)
	r.Route(input.Event{Type: input.EventPointer, When: 1000})
	waitSignal(t, sigs, SignalActivated)

	r.Route(input.Event{Type: input.EventPosition, Position: 30, Pressed: true, When: 1100})
	sig := waitSignal(t, sigs, SignalDeactivated)
	if sig.Cause != CauseKey {
		t.Errorf("expected cause %q, got %q", CauseKey, sig.Cause)
	}
	if ctrl.IsLayerActive(2) {
		t.Error("layer 2 still active after key press")
	}
}

func TestRouterUpdate(t *testing.T) {
	eng, ctrl := newTestEngine(t, nil)
	sigs := eng.Subscribe()

	r := NewRouter(eng, 2, 0, nil)
	r.Update(5, 0)

	r.Route(input.Event{Type: input.EventPointer, When: 100})
	sig := waitSignal(t, sigs, SignalActivated)
	if sig.Layer != 5 {
		t.Errorf("expected layer 5 after Update, got %d", sig.Layer)
	}
	if ctrl.IsLayerActive(2) {
		t.Error("old layer activated after Update")
	}
}

func TestRouterInvalidLayerLogged(t *testing.T) {
	eng, ctrl := newTestEngine(t, nil)

	// Out-of-range layer must not panic and must not activate anything.
	r := NewRouter(eng, MaxLayers+3, 0, nil)
	d := r.Route(input.Event{Type: input.EventPointer, When: 100})
	if d != Continue {
		t.Errorf("Route() = %v, want Continue", d)
	}
	if len(ctrl.callLog()) != 0 {
		t.Errorf("controller called for invalid layer: %v", ctrl.callLog())
	}
}

func TestRouterUnknownEventType(t *testing.T) {
	eng, ctrl := newTestEngine(t, nil)

	r := NewRouter(eng, 2, 0, nil)
	d := r.Route(input.Event{Type: input.EventType(99), When: 100})
	if d != Continue {
		t.Errorf("Route() = %v, want Continue", d)
	}
	if len(ctrl.callLog()) != 0 {
		t.Errorf("controller called for unknown event: %v", ctrl.callLog())
	}
}

func TestRouterTimeoutFlows(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	sigs := eng.Subscribe()

	r := NewRouter(eng, 2, 30, nil)
	r.Route(input.Event{Type: input.EventPointer, When: 100})
	waitSignal(t, sigs, SignalActivated)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case sig := <-sigs:
			if sig.Type == SignalDeactivated {
				if sig.Cause != CauseTimeout {
					t.Errorf("expected cause %q, got %q", CauseTimeout, sig.Cause)
				}
				return
			}
		case <-deadline:
			t.Fatal("timeout deactivation never arrived")
		}
	}
}
