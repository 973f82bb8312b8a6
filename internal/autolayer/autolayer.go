// Package autolayer implements the automatic layer activation engine for
// layerd.
//
// Pointer activity raises a configured keyboard layer; the layer drops
// again after a per-layer timeout or as soon as a non-excluded key is
// pressed. Activation is suppressed while the user is actively typing
// (quick-tap guard) so the layer never flips mid-word.
//
// Key pieces:
//   - Engine: the state machine owning activation state and timing
//   - ExclusionSet: key positions that never cancel the layer
//   - Router: dispatches input events into the engine
//   - per-layer deactivation timers, rearmed on every qualifying event
package autolayer

import (
	"errors"
	"time"
)

// MaxLayers is the number of layer slots the engine and the keymap
// support. Layer indices are valid in [0, MaxLayers).
const MaxLayers = 32

// Controller is the layer-management collaborator the engine drives.
// Activate and deactivate are edge signals; IsLayerActive reflects the
// externally observable layer state and backs the timer-fire
// double-check.
type Controller interface {
	ActivateLayer(layer int)
	DeactivateLayer(layer int)
	IsLayerActive(layer int) bool
}

var (
	// ErrInvalidLayer is returned when a layer index is outside [0, MaxLayers).
	ErrInvalidLayer = errors.New("autolayer: layer index out of range")
)

// Cause identifies why the layer was deactivated.
type Cause string

const (
	// CauseTimeout means the per-layer deactivation timer fired.
	CauseTimeout Cause = "timeout"
	// CauseKey means a non-excluded key press cancelled the layer.
	CauseKey Cause = "key"
	// CausePause means the engine was paused (session lock, layerctl pause).
	CausePause Cause = "pause"
	// CauseShutdown means the daemon is stopping.
	CauseShutdown Cause = "shutdown"
)

// SuppressReason identifies why a pointer event did not activate the layer.
type SuppressReason string

const (
	// SuppressQuickTap means a recent key tap held the layer down.
	SuppressQuickTap SuppressReason = "quicktap"
	// SuppressPolicy means the policy hook vetoed the activation.
	SuppressPolicy SuppressReason = "policy"
	// SuppressPaused means the engine is paused.
	SuppressPaused SuppressReason = "paused"
)

// SignalType distinguishes engine signals.
type SignalType int

const (
	// SignalActivated indicates the toggle layer was raised.
	SignalActivated SignalType = iota
	// SignalDeactivated indicates the toggle layer was lowered.
	SignalDeactivated
	// SignalSuppressed indicates an activation attempt was blocked.
	SignalSuppressed
)

// Signal is emitted on every activation edge and suppressed attempt.
// Exactly one SignalDeactivated follows each SignalActivated.
type Signal struct {
	Type      SignalType
	Layer     int
	Cause     Cause          // set for SignalDeactivated
	Reason    SuppressReason // set for SignalSuppressed
	Timestamp time.Time
}

// Config holds the engine configuration. Immutable once handed to New;
// reconfiguration swaps the whole engine config under its lock.
type Config struct {
	// RequirePriorIdleMs is the minimum quiet time, in milliseconds,
	// since the last non-modifier key tap before pointer activity may
	// raise a layer. Zero disables the guard.
	RequirePriorIdleMs int64

	// ExcludedPositions lists key positions (evdev codes) that never
	// cancel an active layer. Typically the pointer's own buttons.
	ExcludedPositions []int
}

// DefaultConfig returns sensible engine defaults.
func DefaultConfig() *Config {
	return &Config{
		RequirePriorIdleMs: 150,
		ExcludedPositions:  nil,
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.RequirePriorIdleMs < 0 {
		return errors.New("autolayer: require_prior_idle_ms must be >= 0")
	}
	for _, p := range c.ExcludedPositions {
		if p < 0 {
			return errors.New("autolayer: excluded positions must be >= 0")
		}
	}
	return nil
}
