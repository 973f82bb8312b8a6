package ipc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"layerd/internal/store"
)

// Daemon is the surface the handler needs from the running daemon.
type Daemon interface {
	// Status snapshots the daemon state.
	Status() *StatusResponse
	// Pause suspends layer switching. Returns false when already paused.
	Pause() bool
	// Resume re-enables layer switching. Returns false when not paused.
	Resume() bool
	// Reload re-reads configuration and profiles.
	Reload() error
}

// DaemonHandler dispatches command frames to the daemon and the
// journal.
type DaemonHandler struct {
	mu      sync.RWMutex
	daemon  Daemon
	journal *store.Store

	broadcaster func(*Event)
}

// NewDaemonHandler creates the command handler. journal may be nil
// when the journal is disabled; recent queries then fail with
// ErrUnavailable.
func NewDaemonHandler(daemon Daemon, journal *store.Store) *DaemonHandler {
	return &DaemonHandler{
		daemon:  daemon,
		journal: journal,
	}
}

// SetBroadcaster sets the function used to push events to subscribers.
func (h *DaemonHandler) SetBroadcaster(broadcaster func(*Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcaster = broadcaster
}

// HandleMessage processes a command frame. Ping and subscribe are
// answered by the server before reaching the handler.
func (h *DaemonHandler) HandleMessage(ctx context.Context, conn *Conn, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case CmdStatus:
		return h.handleStatus(msg)

	case CmdPause:
		return h.handlePause(msg)

	case CmdResume:
		return h.handleResume(msg)

	case CmdReload:
		return h.handleReload(msg)

	case CmdRecent:
		return h.handleRecent(msg)

	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: %d", msg.Header.Type)), nil
	}
}

func (h *DaemonHandler) handleStatus(msg *Message) (*Message, error) {
	return NewResponse(RespStatus, msg.Header.RequestID, h.daemon.Status())
}

func (h *DaemonHandler) handlePause(msg *Message) (*Message, error) {
	changed := h.daemon.Pause()

	resp := &AckResponse{Changed: changed}
	if !changed {
		resp.Detail = "already paused"
	} else {
		h.broadcast(&Event{
			Type:      EvtPaused,
			Timestamp: time.Now(),
		})
	}
	return NewResponse(RespAck, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleResume(msg *Message) (*Message, error) {
	changed := h.daemon.Resume()

	resp := &AckResponse{Changed: changed}
	if !changed {
		resp.Detail = "not paused"
	} else {
		h.broadcast(&Event{
			Type:      EvtResumed,
			Timestamp: time.Now(),
		})
	}
	return NewResponse(RespAck, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleReload(msg *Message) (*Message, error) {
	if err := h.daemon.Reload(); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}
	return NewResponse(RespAck, msg.Header.RequestID, &AckResponse{Changed: true})
}

func (h *DaemonHandler) handleRecent(msg *Message) (*Message, error) {
	var req RecentRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
		}
	}

	if h.journal == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "journal disabled"), nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := h.journal.RecentActivations(limit)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}

	resp := &RecentResponse{
		Activations: make([]ActivationInfo, 0, len(rows)),
	}
	for _, row := range rows {
		resp.Activations = append(resp.Activations, ActivationInfo{
			Device:      row.Device,
			Layer:       row.Layer,
			ActivatedAt: time.Unix(0, row.ActivatedAt),
			DurationMs:  row.Duration(),
			Cause:       row.Cause,
		})
	}
	return NewResponse(RespRecent, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) broadcast(event *Event) {
	h.mu.RLock()
	broadcaster := h.broadcaster
	h.mu.RUnlock()

	if broadcaster != nil {
		broadcaster(event)
	}
}
