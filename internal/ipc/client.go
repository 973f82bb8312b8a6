package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Common client errors.
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// ClientConfig configures the IPC client.
type ClientConfig struct {
	SocketPath     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns client defaults for a socket path.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Client talks to the daemon over its unix socket. Commands are
// correlated by request id; subscribed event frames are delivered on
// Events. The client does not reconnect: callers that outlive a
// daemon restart dial a fresh client.
type Client struct {
	cfg ClientConfig

	mu        sync.RWMutex
	conn      net.Conn
	connected atomic.Bool

	writeMu sync.Mutex

	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32

	eventChan chan *Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewClient creates a client. Connect establishes the connection.
func NewClient(cfg ClientConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:       cfg,
		pending:   make(map[uint32]chan *Message),
		eventChan: make(chan *Event, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect dials the daemon socket and starts the read loop.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		return nil
	}

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.Dial("unix", c.cfg.SocketPath)
	if err != nil {
		if _, statErr := os.Stat(c.cfg.SocketPath); os.IsNotExist(statErr) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.conn = conn
	c.connected.Store(true)

	c.wg.Add(1)
	go c.readLoop()

	return nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.cancel()
	c.disconnect()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	c.closeOnce.Do(func() { close(c.eventChan) })
	return nil
}

// disconnect closes the socket and fails pending requests.
func (c *Client) disconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.connected.Store(false)

	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint32]chan *Message)
	c.pendingMu.Unlock()
}

// IsConnected reports whether the socket is up.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Events returns the stream of subscribed event frames. The channel
// closes when the client does.
func (c *Client) Events() <-chan *Event {
	return c.eventChan
}

// request sends a command and waits for the matching response.
func (c *Client) request(msgType MessageType, payload any, timeout time.Duration) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	var data []byte
	if payload != nil {
		var err error
		data, err = Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, data)

	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.send(msg); err != nil {
		c.disconnect()
		return nil, fmt.Errorf("write message: %w", err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		if resp.Header.Type == RespError {
			var errResp ErrorResponse
			if err := Decode(resp.Payload, &errResp); err != nil {
				return nil, fmt.Errorf("daemon error (undecodable)")
			}
			return nil, fmt.Errorf("daemon: %s", errResp.Message)
		}
		return resp, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

func (c *Client) send(msg *Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return msg.Write(conn)
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		msg, err := ReadMessage(conn)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Idle subscriber. Probe the daemon; a failed write
				// means the connection is gone.
				if pingErr := c.send(NewMessage(CmdPing, c.nextReqID.Add(1), nil)); pingErr != nil {
					c.disconnect()
					return
				}
				continue
			}
			c.disconnect()
			return
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg *Message) {
	switch {
	case msg.Header.Type == CmdPing:
		// Server keepalive, nothing to answer.

	case msg.Header.Type.IsEvent():
		var event Event
		if err := Decode(msg.Payload, &event); err != nil {
			return
		}
		event.Type = msg.Header.Type
		select {
		case c.eventChan <- &event:
		default:
			// Slow consumer, drop.
		}

	default:
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.Header.RequestID]; ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

// Ping checks that the daemon answers.
func (c *Client) Ping() error {
	resp, err := c.request(CmdPing, nil, 5*time.Second)
	if err != nil {
		return err
	}
	if resp.Header.Type != RespAck {
		return fmt.Errorf("unexpected response: %d", resp.Header.Type)
	}
	return nil
}

// Status fetches the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	resp, err := c.request(CmdStatus, nil, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	var status StatusResponse
	if err := Decode(resp.Payload, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Pause suspends layer switching.
func (c *Client) Pause() (*AckResponse, error) {
	return c.ack(CmdPause)
}

// Resume re-enables layer switching.
func (c *Client) Resume() (*AckResponse, error) {
	return c.ack(CmdResume)
}

// Reload asks the daemon to re-read configuration and profiles.
func (c *Client) Reload() (*AckResponse, error) {
	return c.ack(CmdReload)
}

func (c *Client) ack(cmd MessageType) (*AckResponse, error) {
	resp, err := c.request(cmd, nil, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	var ack AckResponse
	if len(resp.Payload) > 0 {
		if err := Decode(resp.Payload, &ack); err != nil {
			return nil, err
		}
	}
	return &ack, nil
}

// Recent fetches the newest journal rows, most recent first.
func (c *Client) Recent(limit int) ([]ActivationInfo, error) {
	resp, err := c.request(CmdRecent, &RecentRequest{Limit: limit}, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	var recent RecentResponse
	if err := Decode(resp.Payload, &recent); err != nil {
		return nil, err
	}
	return recent.Activations, nil
}

// Subscribe turns on event streaming for this connection. Events
// arrive on Events until the client closes.
func (c *Client) Subscribe() error {
	resp, err := c.request(CmdSubscribe, nil, c.cfg.RequestTimeout)
	if err != nil {
		return err
	}
	if resp.Header.Type != RespAck {
		return fmt.Errorf("unexpected response: %d", resp.Header.Type)
	}
	return nil
}
