//go:build linux

package input

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"layerd/internal/logging"
)

// Linux input_event layout on 64-bit: two 64-bit time words, then
// type, code, value.
const rawEventSize = 24

// Event types from linux/input-event-codes.h.
const (
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03
)

// Key codes in this range belong to pointing-device buttons, not the
// typing area.
const (
	btnMin = 0x100 // BTN_MISC
	btnMax = 0x15f // end of BTN_DIGI block
)

// EV_KEY values. Autorepeat is neither a new press nor a release.
const (
	valRelease = 0
	valPress   = 1
	valRepeat  = 2
)

// eviocgrab is the EVIOCGRAB ioctl request on evdev nodes.
const eviocgrab = 0x40044590

// EvdevSource reads one /dev/input/eventN node and emits normalized
// events. Classification is per code: button-range key codes carry
// pointer semantics, everything else typing semantics, so a combo
// device needs no special handling.
type EvdevSource struct {
	dev  Device
	grab bool
	log  *logging.Logger

	running  atomic.Bool
	stopOnce sync.Once

	mu       sync.Mutex
	file     *os.File
	events   chan Event
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewEvdevSource creates a source for the device. With grab set the
// node is opened exclusively and no other reader sees its events.
func NewEvdevSource(dev Device, grab bool) *EvdevSource {
	return &EvdevSource{
		dev:  dev,
		grab: grab,
		log:  logging.Default().WithComponent("input").WithDevice(dev.Name),
	}
}

func (s *EvdevSource) Name() string { return s.dev.Name }

// Events returns the event stream. Valid after Start.
func (s *EvdevSource) Events() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Start opens the device node and begins reading.
func (s *EvdevSource) Start() error {
	if s.running.Load() {
		return errors.New("input: source already running")
	}

	f, err := os.OpenFile(s.dev.Path, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("input: opening %s: %w", s.dev.Path, err)
	}

	if s.grab {
		if err := unix.IoctlSetInt(int(f.Fd()), eviocgrab, 1); err != nil {
			s.log.Warn("exclusive grab failed, reading shared", "error", err)
		}
	}

	s.mu.Lock()
	s.file = f
	s.events = make(chan Event, 256)
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	s.running.Store(true)
	go s.readLoop(f)

	s.log.Info("device opened", "path", s.dev.Path, "class", s.dev.Class.String())
	return nil
}

func (s *EvdevSource) readLoop(f *os.File) {
	defer func() {
		f.Close()
		s.running.Store(false)
		close(s.events)
		close(s.doneChan)
	}()

	buf := make([]byte, rawEventSize)
	for {
		n, err := f.Read(buf)
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				if errors.Is(err, fs.ErrClosed) || errors.Is(err, unix.ENODEV) {
					s.log.Info("device went away")
				} else {
					s.log.Error("device read failed", "error", err)
				}
			}
			return
		}
		if n < rawEventSize {
			continue
		}

		typ := binary.LittleEndian.Uint16(buf[16:18])
		code := binary.LittleEndian.Uint16(buf[18:20])
		value := int32(binary.LittleEndian.Uint32(buf[20:24]))

		if !s.dispatch(typ, code, value) {
			return
		}
	}
}

// dispatch normalizes one kernel event. Returns false when the source
// is stopping.
func (s *EvdevSource) dispatch(typ, code uint16, value int32) bool {
	now := Uptime()

	switch typ {
	case evRel, evAbs:
		return s.emit(Event{
			Type:   EventPointer,
			Device: s.dev.Name,
			Value:  value,
			When:   now,
		})

	case evKey:
		if value == valRepeat {
			return true
		}
		pressed := value == valPress

		if code >= btnMin && code <= btnMax {
			// Button presses are pointer activity and also cancel
			// candidates addressed by position.
			if pressed {
				if !s.emit(Event{Type: EventPointer, Device: s.dev.Name, When: now}) {
					return false
				}
			}
			return s.emit(Event{
				Type:     EventPosition,
				Device:   s.dev.Name,
				Position: int(code),
				Pressed:  pressed,
				When:     now,
			})
		}

		if !s.emit(Event{
			Type:    EventKey,
			Device:  s.dev.Name,
			Code:    code,
			Pressed: pressed,
			When:    now,
		}) {
			return false
		}
		return s.emit(Event{
			Type:     EventPosition,
			Device:   s.dev.Name,
			Position: int(code),
			Pressed:  pressed,
			When:     now,
		})
	}

	return true
}

func (s *EvdevSource) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stopChan:
		return false
	}
}

// Stop closes the device node and ends the stream. Safe to call more
// than once.
func (s *EvdevSource) Stop() {
	s.mu.Lock()
	done := s.doneChan
	s.mu.Unlock()
	if done == nil {
		return
	}

	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.stopChan)
		if s.file != nil {
			s.file.Close() // unblocks the pending read
			s.file = nil
		}
		s.mu.Unlock()
	})

	<-done
}
