package autolayer

import (
	"sync"
	"time"
)

// deactivationTimers is the per-layer deferred-deactivation table.
// One slot per layer index; arming a slot replaces any pending fire
// for that layer, so at most one fire is outstanding per layer.
//
// Stop does not cancel a callback that is already running; the
// engine's IsLayerActive double-check absorbs that race.
type deactivationTimers struct {
	mu    sync.Mutex
	slots [MaxLayers]*time.Timer
	fire  func(layer int)
}

func newDeactivationTimers(fire func(layer int)) *deactivationTimers {
	return &deactivationTimers{fire: fire}
}

// Arm schedules (or reschedules) the deactivation of layer after delay.
func (t *deactivationTimers) Arm(layer int, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev := t.slots[layer]; prev != nil {
		prev.Stop()
	}
	t.slots[layer] = time.AfterFunc(delay, func() {
		t.fire(layer)
	})
}

// StopAll cancels every pending fire. Used on engine shutdown.
func (t *deactivationTimers) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, timer := range t.slots {
		if timer != nil {
			timer.Stop()
			t.slots[i] = nil
		}
	}
}
