package keymap

import (
	"sync"
	"testing"

	"layerd/internal/autolayer"
)

func TestStackBaseLayer(t *testing.T) {
	s := NewStack()

	if !s.IsLayerActive(0) {
		t.Error("base layer not active on a fresh stack")
	}

	s.DeactivateLayer(0)
	if !s.IsLayerActive(0) {
		t.Error("base layer was dropped")
	}
}

func TestStackActivateDeactivate(t *testing.T) {
	s := NewStack()

	s.ActivateLayer(4)
	if !s.IsLayerActive(4) {
		t.Fatal("layer 4 not active after ActivateLayer")
	}
	if got := s.ActiveMask(); got != 0b10001 {
		t.Errorf("ActiveMask() = %#b, want 0b10001", got)
	}

	s.DeactivateLayer(4)
	if s.IsLayerActive(4) {
		t.Error("layer 4 still active after DeactivateLayer")
	}
	if got := s.ActiveMask(); got != 1 {
		t.Errorf("ActiveMask() = %#b, want 1", got)
	}
}

func TestStackOutOfRange(t *testing.T) {
	s := NewStack()

	s.ActivateLayer(-1)
	s.ActivateLayer(autolayer.MaxLayers)
	s.DeactivateLayer(autolayer.MaxLayers + 3)

	if got := s.ActiveMask(); got != 1 {
		t.Errorf("ActiveMask() = %#b after out-of-range calls, want 1", got)
	}
	if s.IsLayerActive(autolayer.MaxLayers) {
		t.Error("IsLayerActive() true for out-of-range layer")
	}
}

func TestStackChangeListener(t *testing.T) {
	s := NewStack()

	var mu sync.Mutex
	var edges []struct {
		layer  int
		active bool
	}
	s.OnChange(func(layer int, active bool) {
		mu.Lock()
		edges = append(edges, struct {
			layer  int
			active bool
		}{layer, active})
		mu.Unlock()
	})

	s.ActivateLayer(2)
	s.ActivateLayer(2) // repeat, no edge
	s.DeactivateLayer(2)
	s.DeactivateLayer(2) // repeat, no edge

	mu.Lock()
	defer mu.Unlock()
	if len(edges) != 2 {
		t.Fatalf("edges = %d, want 2", len(edges))
	}
	if edges[0].layer != 2 || !edges[0].active {
		t.Errorf("first edge = %+v, want layer 2 up", edges[0])
	}
	if edges[1].layer != 2 || edges[1].active {
		t.Errorf("second edge = %+v, want layer 2 down", edges[1])
	}
}

func TestStackActiveLayers(t *testing.T) {
	s := NewStack()
	s.ActivateLayer(3)
	s.ActivateLayer(7)

	got := s.ActiveLayers()
	want := []int{0, 3, 7}
	if len(got) != len(want) {
		t.Fatalf("ActiveLayers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ActiveLayers() = %v, want %v", got, want)
		}
	}
}

func TestStackHighest(t *testing.T) {
	s := NewStack()

	if got := s.Highest(); got != 0 {
		t.Errorf("Highest() = %d on fresh stack, want 0", got)
	}

	s.ActivateLayer(2)
	s.ActivateLayer(9)
	if got := s.Highest(); got != 9 {
		t.Errorf("Highest() = %d, want 9", got)
	}

	s.DeactivateLayer(9)
	if got := s.Highest(); got != 2 {
		t.Errorf("Highest() = %d, want 2", got)
	}
}

func TestStackConcurrentAccess(t *testing.T) {
	s := NewStack()

	var wg sync.WaitGroup
	for i := 1; i < 16; i++ {
		wg.Add(1)
		go func(layer int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.ActivateLayer(layer)
				s.IsLayerActive(layer)
				s.DeactivateLayer(layer)
			}
		}(i)
	}
	wg.Wait()

	if got := s.ActiveMask(); got != 1 {
		t.Errorf("ActiveMask() = %#b after churn, want 1", got)
	}
}

func TestIsModifier(t *testing.T) {
	tests := []struct {
		code uint16
		want bool
	}{
		{KeyLeftShift, true},
		{KeyRightMeta, true},
		{KeyLeftCtrl, true},
		{KeyRightAlt, true},
		{30, false},  // a
		{57, false},  // space
		{272, false}, // btn_left
	}

	for _, tt := range tests {
		if got := IsModifier(tt.code); got != tt.want {
			t.Errorf("IsModifier(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestKeyName(t *testing.T) {
	if got := KeyName(57); got != "space" {
		t.Errorf("KeyName(57) = %q, want %q", got, "space")
	}
	if got := KeyName(272); got != "btn_left" {
		t.Errorf("KeyName(272) = %q, want %q", got, "btn_left")
	}
	if got := KeyName(999); got != "key-999" {
		t.Errorf("KeyName(999) = %q, want %q", got, "key-999")
	}
}
