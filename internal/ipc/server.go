package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"layerd/internal/logging"
)

// Handler processes command frames.
type Handler interface {
	// HandleMessage processes a command and returns the response
	// frame, or nil for no reply.
	HandleMessage(ctx context.Context, conn *Conn, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn *Conn, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, conn *Conn, msg *Message) (*Message, error) {
	return f(ctx, conn, msg)
}

// Conn is one accepted client connection.
type Conn struct {
	ID          string
	ConnectedAt time.Time

	conn    net.Conn
	writeMu sync.Mutex

	mu         sync.Mutex
	subscribed bool
}

// Subscribed reports whether the connection receives event frames.
func (c *Conn) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath     string
	Permissions    string // octal, e.g. "0600"
	Version        string
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultServerConfig returns the defaults matching the config file.
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		SocketPath:     socketPath,
		Permissions:    "0600",
		Version:        "dev",
		MaxConnections: 10,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server accepts unix-socket connections and dispatches command
// frames to a handler. Connections from other users are refused via
// the socket peer credentials.
type Server struct {
	cfg     ServerConfig
	handler Handler
	log     *logging.Logger

	mu       sync.RWMutex
	listener net.Listener
	conns    map[string]*Conn

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextID    atomic.Uint64
	eventChan chan *Event
}

// NewServer creates an IPC server. Start begins accepting.
func NewServer(cfg ServerConfig, handler Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		handler:   handler,
		log:       logging.Default().WithComponent("ipc"),
		conns:     make(map[string]*Conn),
		ctx:       ctx,
		cancel:    cancel,
		eventChan: make(chan *Event, 100),
	}
}

// Start begins listening on the socket.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := CleanupSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	mode := os.FileMode(0600)
	if s.cfg.Permissions != "" {
		parsed, err := strconv.ParseUint(s.cfg.Permissions, 8, 32)
		if err != nil {
			listener.Close()
			return fmt.Errorf("parse socket permissions: %w", err)
		}
		mode = os.FileMode(parsed)
	}
	if err := os.Chmod(s.cfg.SocketPath, mode); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.running.Store(true)

	s.wg.Add(2)
	go s.eventBroadcaster()
	go s.acceptLoop(listener)

	s.log.Info("ipc server listening", "socket", s.cfg.SocketPath)
	return nil
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range s.conns {
		c.conn.Close()
	}
	s.mu.Unlock()

	close(s.eventChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("ipc shutdown timed out")
	}

	os.Remove(s.cfg.SocketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// ConnCount returns the number of connected clients.
func (s *Server) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Running reports whether the server is accepting.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Broadcast queues an event frame for all subscribed connections.
// Events are dropped rather than blocking the caller.
func (s *Server) Broadcast(event *Event) {
	if !s.running.Load() {
		return
	}
	select {
	case s.eventChan <- event:
	default:
	}
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.log.Warn("accept failed", "error", err)
				continue
			}
		}

		ok, err := VerifyPeerIsCurrentUser(conn)
		if err != nil || !ok {
			s.log.Warn("rejecting peer", "error", err)
			conn.Close()
			continue
		}

		s.mu.Lock()
		if len(s.conns) >= s.cfg.MaxConnections {
			s.mu.Unlock()
			s.log.Warn("connection cap reached, refusing client")
			conn.Close()
			continue
		}
		client := &Conn{
			ID:          fmt.Sprintf("conn-%d", s.nextID.Add(1)),
			ConnectedAt: time.Now(),
			conn:        conn,
		}
		s.conns[client.ID] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

func (s *Server) handleConnection(client *Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, client.ID)
		s.mu.Unlock()
		client.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		client.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		msg, err := ReadMessage(client.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Subscribed watchers idle between events. The ping
				// write doubles as the liveness probe: a dead peer
				// fails it and the connection is dropped.
				if err := s.sendPing(client); err != nil {
					return
				}
				continue
			}
			s.log.Debug("read failed", "conn", client.ID, "error", err)
			return
		}

		response, err := s.processMessage(client, msg)
		if err != nil {
			response = NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error())
		}
		if response != nil {
			if err := s.sendMessage(client, response); err != nil {
				return
			}
		}
	}
}

func (s *Server) processMessage(client *Conn, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case CmdPing:
		return NewMessage(RespAck, msg.Header.RequestID, nil), nil

	case CmdSubscribe:
		client.mu.Lock()
		client.subscribed = true
		client.mu.Unlock()
		return NewMessage(RespAck, msg.Header.RequestID, nil), nil

	default:
		if s.handler == nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "no handler"), nil
		}
		return s.handler.HandleMessage(s.ctx, client, msg)
	}
}

func (s *Server) eventBroadcaster() {
	defer s.wg.Done()

	for event := range s.eventChan {
		payload, err := Encode(event)
		if err != nil {
			continue
		}
		msg := NewMessage(event.Type, 0, payload)

		s.mu.RLock()
		targets := make([]*Conn, 0, len(s.conns))
		for _, c := range s.conns {
			if c.Subscribed() {
				targets = append(targets, c)
			}
		}
		s.mu.RUnlock()

		for _, c := range targets {
			if err := s.sendMessage(c, msg); err != nil {
				s.log.Debug("event send failed", "conn", c.ID, "error", err)
			}
		}
	}
}

func (s *Server) sendMessage(client *Conn, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return msg.Write(client.conn)
}

func (s *Server) sendPing(client *Conn) error {
	return s.sendMessage(client, NewMessage(CmdPing, 0, nil))
}

// CleanupSocket removes a stale socket file. Anything else at the
// path is left alone.
func CleanupSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if info.Mode()&os.ModeSocket != 0 {
		return os.Remove(path)
	}
	return fmt.Errorf("path exists but is not a socket: %s", path)
}

// IsSocketListening reports whether something accepts on the socket.
func IsSocketListening(path string) bool {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
