package input

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// SyntheticSource is a hand-fed event stream. It backs tests and
// trace replay.
type SyntheticSource struct {
	name string

	mu     sync.Mutex
	events chan Event
	closed bool
}

func NewSyntheticSource(name string) *SyntheticSource {
	return &SyntheticSource{
		name:   name,
		events: make(chan Event, 256),
	}
}

func (s *SyntheticSource) Name() string { return s.name }

func (s *SyntheticSource) Events() <-chan Event { return s.events }

func (s *SyntheticSource) Start() error { return nil }

// Feed queues one event. Events fed after Stop, or past a full
// buffer, are dropped and reported as false.
func (s *SyntheticSource) Feed(ev Event) bool {
	if ev.Device == "" {
		ev.Device = s.name
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *SyntheticSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

const traceDevice = "replay"

// ReadTrace parses an event trace. Each line is an offset in
// milliseconds followed by an event kind:
//
//	0 pointer
//	120 key 30 down
//	180 key 30 up
//	200 button 272 down
//
// Blank lines and # comments are skipped. Key and button lines expand
// to the same event pairs a live device would produce.
func ReadTrace(r io.Reader) ([]Event, error) {
	var out []Event

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("input: trace line %d: want offset and kind", lineNo)
		}

		off, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil || off < 0 {
			return nil, fmt.Errorf("input: trace line %d: bad offset %q", lineNo, fields[0])
		}

		switch fields[1] {
		case "pointer":
			out = append(out, Event{Type: EventPointer, Device: traceDevice, When: off})

		case "key", "button":
			if len(fields) != 4 {
				return nil, fmt.Errorf("input: trace line %d: want %q <code> down|up", lineNo, fields[1])
			}
			code, err := strconv.ParseUint(fields[2], 10, 16)
			if err != nil {
				return nil, fmt.Errorf("input: trace line %d: bad code %q", lineNo, fields[2])
			}
			var pressed bool
			switch fields[3] {
			case "down":
				pressed = true
			case "up":
				pressed = false
			default:
				return nil, fmt.Errorf("input: trace line %d: bad state %q", lineNo, fields[3])
			}

			if fields[1] == "button" {
				if pressed {
					out = append(out, Event{Type: EventPointer, Device: traceDevice, When: off})
				}
			} else {
				out = append(out, Event{
					Type:    EventKey,
					Device:  traceDevice,
					Code:    uint16(code),
					Pressed: pressed,
					When:    off,
				})
			}
			out = append(out, Event{
				Type:     EventPosition,
				Device:   traceDevice,
				Position: int(code),
				Pressed:  pressed,
				When:     off,
			})

		default:
			return nil, fmt.Errorf("input: trace line %d: unknown kind %q", lineNo, fields[1])
		}
	}

	return out, sc.Err()
}
