// Package ipc carries the control protocol between layerd and its
// clients (layerctl, the HUD) over a unix socket.
//
// Frames are a fixed 16-byte binary header followed by a JSON
// payload. Message types are grouped by range: commands 0x00xx,
// responses 0x01xx, streamed events 0x02xx.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Protocol constants.
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x4c495043 // "LIPC"

	// HeaderSize is the fixed frame header length in bytes.
	HeaderSize = 16

	// MaxPayload caps a frame payload. Journal excerpts are the
	// largest payloads and stay far below this.
	MaxPayload = 1 << 20
)

// MessageType identifies a frame.
type MessageType uint16

const (
	// Commands (0x00xx)
	CmdPing      MessageType = 0x0001
	CmdStatus    MessageType = 0x0002
	CmdPause     MessageType = 0x0003
	CmdResume    MessageType = 0x0004
	CmdReload    MessageType = 0x0005
	CmdRecent    MessageType = 0x0006
	CmdSubscribe MessageType = 0x0007

	// Responses (0x01xx)
	RespAck    MessageType = 0x0100
	RespError  MessageType = 0x0101
	RespStatus MessageType = 0x0102
	RespRecent MessageType = 0x0103

	// Events (0x02xx)
	EvtActivated   MessageType = 0x0200
	EvtDeactivated MessageType = 0x0201
	EvtSuppressed  MessageType = 0x0202
	EvtPaused      MessageType = 0x0203
	EvtResumed     MessageType = 0x0204
)

// IsEvent reports whether the type is in the streamed-event range.
func (t MessageType) IsEvent() bool {
	return t >= 0x0200 && t <= 0x02ff
}

func (t MessageType) String() string {
	switch t {
	case CmdPing:
		return "ping"
	case CmdStatus:
		return "status"
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdReload:
		return "reload"
	case CmdRecent:
		return "recent"
	case CmdSubscribe:
		return "subscribe"
	case RespAck:
		return "ack"
	case RespError:
		return "error"
	case RespStatus:
		return "status-data"
	case RespRecent:
		return "recent-data"
	case EvtActivated:
		return "activated"
	case EvtDeactivated:
		return "deactivated"
	case EvtSuppressed:
		return "suppressed"
	case EvtPaused:
		return "paused"
	case EvtResumed:
		return "resumed"
	}
	return fmt.Sprintf("unknown-0x%04x", uint16(t))
}

// Header is the fixed-size frame header.
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32 // payload length, header excluded
}

// Write writes the header to a writer.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and checks a frame header.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the full frame to a writer.
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads one complete frame from a reader.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Encode encodes a payload to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes into a payload.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Error codes carried in ErrorResponse.
const (
	ErrUnknown        = 1
	ErrInvalidRequest = 2
	ErrInternalError  = 3
	ErrUnavailable    = 4
)

// ErrorResponse is sent when a command fails.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// AckResponse acknowledges pause, resume and reload. Changed is false
// when the command was a no-op, like pausing a paused daemon.
type AckResponse struct {
	Changed bool   `json:"changed"`
	Detail  string `json:"detail,omitempty"`
}

// DeviceStatus describes one captured input device.
type DeviceStatus struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Class     string `json:"class"`
	Layer     int    `json:"layer,omitempty"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
	Profile   string `json:"profile,omitempty"`
	Active    bool   `json:"active,omitempty"`
}

// LayerTotalStatus aggregates journal rows for one layer.
type LayerTotalStatus struct {
	Layer       int   `json:"layer"`
	Activations int64 `json:"activations"`
	ActiveMs    int64 `json:"active_ms"`
}

// StatusResponse is the full daemon status.
type StatusResponse struct {
	Version      string             `json:"version"`
	PID          int                `json:"pid"`
	SessionID    string             `json:"session_id"`
	StartedAt    time.Time          `json:"started_at"`
	UptimeMs     int64              `json:"uptime_ms"`
	Paused       bool               `json:"paused"`
	ActiveLayers []int              `json:"active_layers"`
	Devices      []DeviceStatus     `json:"devices,omitempty"`
	Totals       []LayerTotalStatus `json:"totals,omitempty"`
}

// RecentRequest asks for the newest journal rows.
type RecentRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ActivationInfo is one journal row in a recent listing.
type ActivationInfo struct {
	Device      string    `json:"device"`
	Layer       int       `json:"layer"`
	ActivatedAt time.Time `json:"activated_at"`
	DurationMs  int64     `json:"duration_ms"` // -1 while open
	Cause       string    `json:"cause,omitempty"`
}

// RecentResponse carries the newest journal rows, most recent first.
type RecentResponse struct {
	Activations []ActivationInfo `json:"activations"`
}

// Event is the payload of a streamed 0x02xx frame.
type Event struct {
	Type      MessageType `json:"-"`
	Layer     int         `json:"layer"`
	Device    string      `json:"device,omitempty"`
	Cause     string      `json:"cause,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewErrorMessage creates an error response frame.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(RespError, requestID, payload)
}

// NewResponse creates a response frame with a JSON payload.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
