// Package keymap tracks which layers are raised. The stack is the
// authority the rest of the daemon queries; layer 0 is the base layer
// and can never be dropped.
package keymap

import (
	"sync"

	"layerd/internal/autolayer"
)

// ChangeFunc observes layer edges. Callbacks run outside the stack's
// lock and must not assume the state still matches.
type ChangeFunc func(layer int, active bool)

// Stack is the active-layer set, one bit per layer.
type Stack struct {
	mu        sync.RWMutex
	mask      uint32
	listeners []ChangeFunc
}

// NewStack returns a stack with only the base layer active.
func NewStack() *Stack {
	return &Stack{mask: 1}
}

// OnChange registers a listener for layer edges.
func (s *Stack) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// ActivateLayer raises a layer. Already-active layers and out-of-range
// indexes are no-ops.
func (s *Stack) ActivateLayer(layer int) {
	if layer < 0 || layer >= autolayer.MaxLayers {
		return
	}

	s.mu.Lock()
	bit := uint32(1) << layer
	if s.mask&bit != 0 {
		s.mu.Unlock()
		return
	}
	s.mask |= bit
	listeners := make([]ChangeFunc, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(layer, true)
	}
}

// DeactivateLayer drops a layer. The base layer, inactive layers, and
// out-of-range indexes are no-ops.
func (s *Stack) DeactivateLayer(layer int) {
	if layer <= 0 || layer >= autolayer.MaxLayers {
		return
	}

	s.mu.Lock()
	bit := uint32(1) << layer
	if s.mask&bit == 0 {
		s.mu.Unlock()
		return
	}
	s.mask &^= bit
	listeners := make([]ChangeFunc, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(layer, false)
	}
}

// IsLayerActive reports whether the layer is raised.
func (s *Stack) IsLayerActive(layer int) bool {
	if layer < 0 || layer >= autolayer.MaxLayers {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mask&(uint32(1)<<layer) != 0
}

// ActiveMask returns the raw layer bitmask.
func (s *Stack) ActiveMask() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mask
}

// ActiveLayers lists raised layers in ascending order.
func (s *Stack) ActiveLayers() []int {
	s.mu.RLock()
	mask := s.mask
	s.mu.RUnlock()

	var layers []int
	for i := 0; i < autolayer.MaxLayers; i++ {
		if mask&(uint32(1)<<i) != 0 {
			layers = append(layers, i)
		}
	}
	return layers
}

// Highest returns the topmost raised layer. At minimum the base layer.
func (s *Stack) Highest() int {
	s.mu.RLock()
	mask := s.mask
	s.mu.RUnlock()

	for i := autolayer.MaxLayers - 1; i > 0; i-- {
		if mask&(uint32(1)<<i) != 0 {
			return i
		}
	}
	return 0
}
