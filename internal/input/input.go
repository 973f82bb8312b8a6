// Package input captures pointer and keyboard activity from evdev
// devices and normalizes it into a single event stream. Sources are
// per-device; the daemon fans their streams into one loop.
package input

import (
	"strings"
	"time"
)

// EventType classifies a normalized input event.
type EventType int

const (
	// EventPointer is pointer activity: relative motion, absolute
	// touch motion, or a button press on a pointing device.
	EventPointer EventType = iota
	// EventKey is a keyboard key transition, used for the typing
	// clock.
	EventKey
	// EventPosition is a key or button transition addressed by
	// position, used for the cancel-on-key path.
	EventPosition
)

// Event is one normalized input event.
type Event struct {
	Type     EventType
	Device   string // source name
	Code     uint16 // key or button code, key events only
	Position int    // position identifier, position events only
	Pressed  bool
	Value    int32 // motion delta, pointer events only
	When     int64 // monotonic milliseconds, see Uptime
}

// Source is a device-backed stream of events. Events() drains until
// Stop, after which the channel is closed.
type Source interface {
	Name() string
	Events() <-chan Event
	Start() error
	Stop()
}

// DeviceClass is a capability bitmask for an input device. A device
// can be both a keyboard and a pointer (keyboards with trackpoints).
type DeviceClass uint8

const (
	ClassKeyboard DeviceClass = 1 << iota
	ClassPointer
)

func (c DeviceClass) String() string {
	switch {
	case c&ClassKeyboard != 0 && c&ClassPointer != 0:
		return "keyboard+pointer"
	case c&ClassKeyboard != 0:
		return "keyboard"
	case c&ClassPointer != 0:
		return "pointer"
	}
	return "none"
}

// Device describes one discovered input device.
type Device struct {
	Name    string `json:"name"`
	Path    string `json:"path"` // /dev/input/eventN
	Phys    string `json:"phys"`
	Vendor  uint16 `json:"vendor"`
	Product uint16 `json:"product"`
	Class   DeviceClass
}

func (d Device) IsKeyboard() bool { return d.Class&ClassKeyboard != 0 }
func (d Device) IsPointer() bool  { return d.Class&ClassPointer != 0 }

// IsVirtual reports whether the device looks synthetic rather than
// physical hardware. Virtual devices have no phys path or one rooted
// under virtual/.
func (d Device) IsVirtual() bool {
	phys := strings.ToLower(d.Phys)
	return phys == "" || strings.HasPrefix(phys, "virtual")
}

var processStart = time.Now()

// Uptime returns milliseconds since process start on the monotonic
// clock. All Event.When values and the engine's tap clock use this
// time base.
func Uptime() int64 {
	return time.Since(processStart).Milliseconds()
}
