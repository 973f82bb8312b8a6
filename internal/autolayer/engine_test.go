package autolayer

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockController records layer transitions driven by the engine.
type mockController struct {
	mu     sync.Mutex
	active map[int]bool
	calls  []string
}

func newMockController() *mockController {
	return &mockController{active: make(map[int]bool)}
}

func (m *mockController) ActivateLayer(layer int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[layer] = true
	m.calls = append(m.calls, fmt.Sprintf("activate:%d", layer))
}

func (m *mockController) DeactivateLayer(layer int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[layer] = false
	m.calls = append(m.calls, fmt.Sprintf("deactivate:%d", layer))
}

func (m *mockController) IsLayerActive(layer int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[layer]
}

func (m *mockController) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func waitSignal(t *testing.T, ch <-chan Signal, want SignalType) Signal {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				t.Fatal("signal channel closed while waiting")
			}
			if sig.Type == want {
				return sig
			}
		case <-deadline:
			t.Fatalf("timed out waiting for signal type %v", want)
		}
	}
}

func assertNoSignal(t *testing.T, ch <-chan Signal, unwanted SignalType, window time.Duration) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				return
			}
			if sig.Type == unwanted {
				t.Fatalf("unexpected signal %+v", sig)
			}
		case <-deadline:
			return
		}
	}
}

func newTestEngine(t *testing.T, cfg *Config) (*Engine, *mockController) {
	t.Helper()
	ctrl := newMockController()
	e, err := New(cfg, ctrl)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e, ctrl
}

func TestEngineActivatesOnPointer(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})
	ch := e.Subscribe()

	if err := e.OnInput(4, 0, 1000); err != nil {
		t.Fatalf("OnInput() error = %v", err)
	}

	sig := waitSignal(t, ch, SignalActivated)
	if sig.Layer != 4 {
		t.Errorf("activated layer = %d, want 4", sig.Layer)
	}
	if !ctrl.IsLayerActive(4) {
		t.Error("controller does not show layer 4 active")
	}

	st := e.Status()
	if !st.Active || st.Layer != 4 {
		t.Errorf("Status() = %+v, want active layer 4", st)
	}
}

func TestEngineRepeatPointerKeepsSingleActivation(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})

	for i := 0; i < 5; i++ {
		if err := e.OnInput(2, 0, int64(1000+i)); err != nil {
			t.Fatalf("OnInput() error = %v", err)
		}
	}

	calls := ctrl.callLog()
	if len(calls) != 1 || calls[0] != "activate:2" {
		t.Errorf("controller calls = %v, want single activate:2", calls)
	}
}

func TestEngineQuickTapGuard(t *testing.T) {
	cfg := &Config{RequirePriorIdleMs: 150}
	e, ctrl := newTestEngine(t, cfg)
	ch := e.Subscribe()

	e.OnKeyTap(false, 0)

	// Pointer lands inside the idle window.
	if err := e.OnInput(1, 0, 100); err != nil {
		t.Fatalf("OnInput() error = %v", err)
	}
	sig := waitSignal(t, ch, SignalSuppressed)
	if sig.Reason != SuppressQuickTap {
		t.Errorf("suppress reason = %q, want %q", sig.Reason, SuppressQuickTap)
	}
	if len(ctrl.callLog()) != 0 {
		t.Errorf("controller called during suppression: %v", ctrl.callLog())
	}

	// Same pointer once the window has elapsed.
	if err := e.OnInput(1, 0, 200); err != nil {
		t.Fatalf("OnInput() error = %v", err)
	}
	waitSignal(t, ch, SignalActivated)
	if !ctrl.IsLayerActive(1) {
		t.Error("layer 1 not active after idle window elapsed")
	}
}

func TestEngineModifierTapDoesNotArmGuard(t *testing.T) {
	cfg := &Config{RequirePriorIdleMs: 150}
	e, _ := newTestEngine(t, cfg)
	ch := e.Subscribe()

	// A modifier tap at t=190 must not reset the clock; the earlier
	// plain tap at t=0 is already outside the window at t=200.
	e.OnKeyTap(false, 0)
	e.OnKeyTap(true, 190)

	if err := e.OnInput(1, 0, 200); err != nil {
		t.Fatalf("OnInput() error = %v", err)
	}
	waitSignal(t, ch, SignalActivated)
}

func TestEngineSuppressionStreakSignalsOnce(t *testing.T) {
	cfg := &Config{RequirePriorIdleMs: 500}
	e, _ := newTestEngine(t, cfg)
	ch := e.Subscribe()

	e.OnKeyTap(false, 0)
	for i := 0; i < 10; i++ {
		e.OnInput(1, 0, int64(10+i))
	}

	waitSignal(t, ch, SignalSuppressed)
	assertNoSignal(t, ch, SignalSuppressed, 100*time.Millisecond)
}

func TestEngineInvalidLayer(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})

	tests := []struct {
		name  string
		layer int
	}{
		{name: "negative", layer: -1},
		{name: "at limit", layer: MaxLayers},
		{name: "beyond limit", layer: MaxLayers + 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.OnInput(tt.layer, 1000, 0)
			if !errors.Is(err, ErrInvalidLayer) {
				t.Errorf("OnInput(%d) error = %v, want ErrInvalidLayer", tt.layer, err)
			}
		})
	}

	if len(ctrl.callLog()) != 0 {
		t.Errorf("controller called on rejected input: %v", ctrl.callLog())
	}
	if st := e.Status(); st.Active {
		t.Error("engine active after rejected input")
	}
}

func TestEngineKeyPressCancels(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})
	ch := e.Subscribe()

	e.OnInput(3, 0, 0)
	waitSignal(t, ch, SignalActivated)

	e.OnPositionChanged(30, true)

	sig := waitSignal(t, ch, SignalDeactivated)
	if sig.Cause != CauseKey {
		t.Errorf("cause = %q, want %q", sig.Cause, CauseKey)
	}
	if sig.Layer != 3 {
		t.Errorf("deactivated layer = %d, want 3", sig.Layer)
	}
	if ctrl.IsLayerActive(3) {
		t.Error("layer 3 still active after key press")
	}
}

func TestEngineKeyCancelBeatsTimer(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})
	ch := e.Subscribe()

	e.OnInput(2, 60, 0)
	waitSignal(t, ch, SignalActivated)

	// The key press wins the race; the still-pending timer fires
	// against an inactive layer and must stay silent.
	e.OnPositionChanged(30, true)
	sig := waitSignal(t, ch, SignalDeactivated)
	if sig.Cause != CauseKey {
		t.Errorf("cause = %q, want %q", sig.Cause, CauseKey)
	}

	assertNoSignal(t, ch, SignalDeactivated, 200*time.Millisecond)

	deactivations := 0
	for _, c := range ctrl.callLog() {
		if c == "deactivate:2" {
			deactivations++
		}
	}
	if deactivations != 1 {
		t.Errorf("deactivate calls = %d, want 1", deactivations)
	}
}

func TestEngineExcludedPositions(t *testing.T) {
	cfg := &Config{ExcludedPositions: []int{5, 6}}
	e, ctrl := newTestEngine(t, cfg)
	ch := e.Subscribe()

	e.OnInput(3, 0, 0)
	waitSignal(t, ch, SignalActivated)

	// Presses at excluded positions keep the layer up.
	e.OnPositionChanged(5, true)
	e.OnPositionChanged(6, true)
	if !ctrl.IsLayerActive(3) {
		t.Fatal("excluded press dropped the layer")
	}

	// Any other position cancels.
	e.OnPositionChanged(7, true)
	sig := waitSignal(t, ch, SignalDeactivated)
	if sig.Cause != CauseKey {
		t.Errorf("cause = %q, want %q", sig.Cause, CauseKey)
	}
}

func TestEngineKeyReleaseIgnored(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})
	ch := e.Subscribe()

	e.OnInput(3, 0, 0)
	waitSignal(t, ch, SignalActivated)

	e.OnPositionChanged(30, false)

	if !ctrl.IsLayerActive(3) {
		t.Error("key release dropped the layer")
	}
}

func TestEngineKeyPressWhileInactive(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})

	e.OnPositionChanged(30, true)

	if len(ctrl.callLog()) != 0 {
		t.Errorf("controller called while inactive: %v", ctrl.callLog())
	}
}

func TestEngineTimeoutDeactivates(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})
	ch := e.Subscribe()

	e.OnInput(2, 30, 0)
	waitSignal(t, ch, SignalActivated)

	sig := waitSignal(t, ch, SignalDeactivated)
	if sig.Cause != CauseTimeout {
		t.Errorf("cause = %q, want %q", sig.Cause, CauseTimeout)
	}
	if ctrl.IsLayerActive(2) {
		t.Error("layer 2 still active after timeout")
	}
}

func TestEngineTimerRearm(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})
	ch := e.Subscribe()

	e.OnInput(2, 100, 0)
	waitSignal(t, ch, SignalActivated)

	time.Sleep(40 * time.Millisecond)
	e.OnInput(2, 100, 40)

	// Only the second arm may fire.
	waitSignal(t, ch, SignalDeactivated)
	assertNoSignal(t, ch, SignalDeactivated, 250*time.Millisecond)

	deactivations := 0
	for _, c := range ctrl.callLog() {
		if c == "deactivate:2" {
			deactivations++
		}
	}
	if deactivations != 1 {
		t.Errorf("deactivate calls = %d, want 1", deactivations)
	}
}

func TestEngineZeroTimeoutPersists(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})
	ch := e.Subscribe()

	e.OnInput(2, 0, 0)
	waitSignal(t, ch, SignalActivated)

	assertNoSignal(t, ch, SignalDeactivated, 100*time.Millisecond)
	if !ctrl.IsLayerActive(2) {
		t.Fatal("layer dropped without a timer or key press")
	}

	e.OnPositionChanged(30, true)
	waitSignal(t, ch, SignalDeactivated)
}

func TestEngineSuppressedInputStillArmsTimer(t *testing.T) {
	cfg := &Config{RequirePriorIdleMs: 500}
	e, ctrl := newTestEngine(t, cfg)
	ch := e.Subscribe()

	e.OnKeyTap(false, 0)
	e.OnInput(1, 20, 10)
	waitSignal(t, ch, SignalSuppressed)

	// The armed timer fires against an inactive layer and must not
	// produce a deactivation.
	assertNoSignal(t, ch, SignalDeactivated, 150*time.Millisecond)
	if len(ctrl.callLog()) != 0 {
		t.Errorf("controller touched by timer on inactive layer: %v", ctrl.callLog())
	}
}

func TestEngineRetargetWhileActive(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})
	ch := e.Subscribe()

	e.OnInput(2, 0, 0)
	waitSignal(t, ch, SignalActivated)

	// A pointer event naming a different layer rebinds the toggle
	// target without a new activation.
	e.OnInput(3, 0, 10)
	assertNoSignal(t, ch, SignalActivated, 50*time.Millisecond)

	// The next cancellation tears down the rebound target, not the
	// layer that was raised.
	e.OnPositionChanged(30, true)
	sig := waitSignal(t, ch, SignalDeactivated)
	if sig.Layer != 3 {
		t.Errorf("deactivated layer = %d, want 3", sig.Layer)
	}
	if !ctrl.IsLayerActive(2) {
		t.Error("originally raised layer 2 was dropped")
	}
}

func TestEngineRetargetTimerChecksFiringSlot(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})
	ch := e.Subscribe()

	e.OnInput(2, 0, 0)
	waitSignal(t, ch, SignalActivated)

	// Timer lands on slot 3, which the controller never raised, so
	// the fire is a no-op and layer 2 stays up.
	e.OnInput(3, 30, 10)
	assertNoSignal(t, ch, SignalDeactivated, 150*time.Millisecond)
	if !ctrl.IsLayerActive(2) {
		t.Error("layer 2 dropped by a timer armed for slot 3")
	}
}

func TestEnginePauseResume(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})
	ch := e.Subscribe()

	e.OnInput(2, 0, 0)
	waitSignal(t, ch, SignalActivated)

	e.Pause()
	sig := waitSignal(t, ch, SignalDeactivated)
	if sig.Cause != CausePause {
		t.Errorf("cause = %q, want %q", sig.Cause, CausePause)
	}
	if !e.Paused() {
		t.Error("Paused() = false after Pause()")
	}

	e.OnInput(2, 0, 100)
	sup := waitSignal(t, ch, SignalSuppressed)
	if sup.Reason != SuppressPaused {
		t.Errorf("suppress reason = %q, want %q", sup.Reason, SuppressPaused)
	}

	e.Resume()
	e.OnInput(2, 0, 200)
	waitSignal(t, ch, SignalActivated)
	if !ctrl.IsLayerActive(2) {
		t.Error("layer 2 not active after resume")
	}
}

func TestEngineGateVeto(t *testing.T) {
	e, ctrl := newTestEngine(t, &Config{})
	ch := e.Subscribe()

	allow := false
	e.SetGate(func(layer int) bool { return allow })

	e.OnInput(2, 0, 0)
	sig := waitSignal(t, ch, SignalSuppressed)
	if sig.Reason != SuppressPolicy {
		t.Errorf("suppress reason = %q, want %q", sig.Reason, SuppressPolicy)
	}
	if len(ctrl.callLog()) != 0 {
		t.Errorf("controller called despite veto: %v", ctrl.callLog())
	}

	allow = true
	e.OnInput(2, 0, 10)
	waitSignal(t, ch, SignalActivated)
}

func TestEngineReconfigure(t *testing.T) {
	cfg := &Config{ExcludedPositions: []int{5}}
	e, ctrl := newTestEngine(t, cfg)
	ch := e.Subscribe()

	e.OnInput(2, 0, 0)
	waitSignal(t, ch, SignalActivated)

	if err := e.Reconfigure(&Config{ExcludedPositions: []int{9}}); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}

	// Position 5 lost its exclusion in the new set.
	e.OnPositionChanged(5, true)
	waitSignal(t, ch, SignalDeactivated)
	if ctrl.IsLayerActive(2) {
		t.Error("layer 2 still active after reconfigured cancel")
	}
}

func TestEngineReconfigureRejectsBadConfig(t *testing.T) {
	e, _ := newTestEngine(t, &Config{})

	err := e.Reconfigure(&Config{RequirePriorIdleMs: -5})
	if err == nil {
		t.Error("Reconfigure() accepted a negative idle threshold")
	}
}

func TestEngineClose(t *testing.T) {
	ctrl := newMockController()
	e, err := New(&Config{}, ctrl)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ch := e.Subscribe()

	e.OnInput(2, 0, 0)
	waitSignal(t, ch, SignalActivated)

	e.Close()

	sawShutdown := false
	for sig := range ch {
		if sig.Type == SignalDeactivated && sig.Cause == CauseShutdown {
			sawShutdown = true
		}
	}
	if !sawShutdown {
		t.Error("no shutdown deactivation before channel close")
	}
	if ctrl.IsLayerActive(2) {
		t.Error("layer 2 still active after Close()")
	}

	// Events after close are dropped.
	if err := e.OnInput(2, 0, 100); err != nil {
		t.Errorf("OnInput() after close error = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "defaults",
			cfg:     DefaultConfig(),
			wantErr: false,
		},
		{
			name:    "zero value",
			cfg:     &Config{},
			wantErr: false,
		},
		{
			name:    "negative idle threshold",
			cfg:     &Config{RequirePriorIdleMs: -1},
			wantErr: true,
		},
		{
			name:    "negative position",
			cfg:     &Config{ExcludedPositions: []int{4, -2}},
			wantErr: true,
		},
		{
			name:    "large values",
			cfg:     &Config{RequirePriorIdleMs: 10_000, ExcludedPositions: []int{0, 1023}},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func BenchmarkEngineOnInput(b *testing.B) {
	ctrl := newMockController()
	e, err := New(&Config{RequirePriorIdleMs: 150}, ctrl)
	if err != nil {
		b.Fatal(err)
	}
	defer e.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.OnInput(2, 0, int64(i))
	}
}
