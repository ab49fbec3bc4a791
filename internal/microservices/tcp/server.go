// Package tcp is the session manager: it accepts controller connections,
// frames and decodes their messages, acknowledges them and lets the host
// push messages back to one client or to all of them.
package tcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"palmcontroller/internal/netutil"
	"palmcontroller/pkg/protocol"
)

var (
	ErrClientNotFound   = errors.New("client not found")
	ErrServerNotRunning = errors.New("server not running")
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Options tunes a TCPServer. Zero values select the defaults.
type Options struct {
	MaxMessageSize int           // largest accepted frame in bytes
	WriteTimeout   time.Duration // per-frame write deadline, 0 disables
	IdleTimeout    time.Duration // read deadline between frames, 0 disables
	RateLimit      float64       // messages/sec per client, 0 disables
	RateBurst      int
	VolumeRepo     VolumeRepository // optional persistence of the volume cache
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.WriteTimeout < 0 {
		o.WriteTimeout = 0
	}
	if o.RateLimit > 0 && o.RateBurst <= 0 {
		o.RateBurst = int(o.RateLimit)
		if o.RateBurst < 1 {
			o.RateBurst = 1
		}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// server struct and methods
type TCPServer struct {
	Manager *ConnectionManager
	opts    Options
	logger  *slog.Logger
	events  *eventBus
	volume  volumeCache

	lifecycle sync.Mutex // serializes Start and Stop
	running   atomic.Bool

	mu        sync.RWMutex // guards the fields below
	listener  net.Listener
	cancel    context.CancelFunc
	port      int
	ipAddress string

	wg sync.WaitGroup // accept loop and every read loop
}

// constructor for Server
func NewServer(opts Options) *TCPServer {
	opts = opts.withDefaults()
	return &TCPServer{
		Manager: NewConnectionManager(opts.Logger),
		opts:    opts,
		logger:  opts.Logger,
		events:  newEventBus(opts.Logger),
		volume:  newVolumeCache(),
	}
}

// Subscribe registers l for connection, message and status events.
func (s *TCPServer) Subscribe(l Listener) {
	s.events.subscribe(l)
}

// Start binds 0.0.0.0:port (0 picks a free port) and begins accepting.
// Calling Start on a running server is a no-op.
func (s *TCPServer) Start(port int) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.running.Load() {
		return nil
	}

	s.events.start()

	listener, err := net.Listen("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		s.logger.Error("tcp_server_start_failed", "port", port, "error", err)
		s.events.emit(event{kind: eventStatus, status: fmt.Sprintf("start failed: %v", err)})
		s.events.stop()
		return fmt.Errorf("failed to start TCP server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	boundPort := listener.Addr().(*net.TCPAddr).Port
	ip := netutil.LocalIPv4()

	s.mu.Lock()
	s.listener = listener
	s.cancel = cancel
	s.port = boundPort
	s.ipAddress = ip
	s.mu.Unlock()

	s.Manager.reopen()
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop(ctx, listener)

	s.logger.Info("tcp_server_started", "address", listener.Addr().String(), "ip", ip, "port", boundPort)
	s.events.emit(event{kind: eventStatus, status: fmt.Sprintf("server started - %s:%d", ip, boundPort)})
	return nil
}

// Stop closes the listener and every connection, then waits for all loops
// and pending events. Calling Stop on a stopped server is a no-op.
func (s *TCPServer) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.running.Load() {
		return
	}
	s.running.Store(false)

	s.mu.Lock()
	cancel, listener := s.cancel, s.listener
	s.listener = nil
	s.cancel = nil
	s.mu.Unlock()

	cancel() // signal all goroutines to shutdown
	listener.Close()
	s.Manager.CloseAllConnections()
	s.wg.Wait()

	s.logger.Info("tcp_server_stopped")
	s.events.emit(event{kind: eventStatus, status: "server stopped"})
	s.events.stop()
}

func (s *TCPServer) IsRunning() bool {
	return s.running.Load()
}

// Addr returns the bound listener address, nil when stopped.
func (s *TCPServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound port of the last successful Start.
func (s *TCPServer) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// IPAddress returns the LAN address reported to controllers.
func (s *TCPServer) IPAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ipAddress
}

func (s *TCPServer) Clients() []ClientInfo {
	return s.Manager.Clients()
}

// SendToClient writes msg to a single connection.
func (s *TCPServer) SendToClient(clientID string, msg *protocol.ControlMessage) error {
	if !s.running.Load() {
		return ErrServerNotRunning
	}
	client, ok := s.Manager.Get(clientID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	if err := client.SendMessage(msg); err != nil {
		s.logger.Warn("send_to_client_failed",
			"client_id", clientID,
			"message_type", msg.Type,
			"error", err.Error(),
		)
		return fmt.Errorf("send to %s: %w", clientID, err)
	}
	return nil
}

// Broadcast encodes msg once and writes it to every connected client.
// Per-client failures are logged and do not affect the others.
func (s *TCPServer) Broadcast(msg *protocol.ControlMessage) error {
	if !s.running.Load() {
		return ErrServerNotRunning
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	sent, failed := s.Manager.Broadcast(data)
	s.logger.Debug("broadcast_sent",
		"message_type", msg.Type,
		"sent", sent,
		"failed", failed,
	)
	return nil
}

func (s *TCPServer) acceptLoop(ctx context.Context, listener net.Listener) {
	defer s.wg.Done()

	backoff := minAcceptBackoff
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("tcp_accept_failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxAcceptBackoff)
			continue
		}
		backoff = minAcceptBackoff

		client := NewClientConnection(conn, s.opts)
		if !s.Manager.AddConnection(client) {
			// shutdown raced with this accept
			client.Close()
			return
		}

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

// handle lifecycle of a single client connection
func (s *TCPServer) handleConnection(client *ClientConnection) {
	defer s.wg.Done()
	defer func() {
		// runs on every exit path: the connection is unregistered, closed
		// and reported lost exactly once
		s.Manager.RemoveConnection(client)
		client.Close()
		s.events.emit(event{kind: eventDisconnected, clientID: client.ID})
	}()

	s.logger.Info("client_connected",
		"client_id", client.ID,
		"remote_addr", client.RemoteAddr(),
	)
	s.events.emit(event{kind: eventConnected, clientID: client.ID})

	err := client.Listen(
		func(line []byte) { s.processLine(client, line) },
		func() {
			s.logger.Warn("message_too_large",
				"client_id", client.ID,
				"max_size", s.opts.MaxMessageSize,
			)
		},
	)
	switch {
	case err == nil:
		s.logger.Info("client_disconnected", "client_id", client.ID)
	case isTimeoutErr(err):
		s.logger.Warn("client_read_timeout", "client_id", client.ID, "idle_timeout", s.opts.IdleTimeout)
	default:
		s.logger.Error("client_read_error", "client_id", client.ID, "error", err)
	}
}

// processLine decodes one frame, hands it to listeners and acknowledges it.
func (s *TCPServer) processLine(client *ClientConnection, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	msg, err := protocol.Decode(line)
	if err != nil {
		s.logger.Warn("invalid_message_received",
			"client_id", client.ID,
			"error", err.Error(),
		)
		return
	}

	if client.Limiter != nil && !client.Limiter.Allow() {
		s.logger.Warn("rate_limit_exceeded",
			"client_id", client.ID,
			"message_id", msg.ID,
		)
		s.reply(client, protocol.NewResponse(msg.ID, false, "rate limit exceeded"))
		return
	}

	s.logger.Debug("message_received",
		"client_id", client.ID,
		"message_id", msg.ID,
		"message_type", msg.Type,
	)
	s.events.emit(event{kind: eventMessage, clientID: client.ID, msg: msg})

	// acks are never acknowledged, otherwise two peers would loop forever
	if !msg.IsAck() {
		s.reply(client, protocol.NewResponse(msg.ID, true, ""))
	}
}

func (s *TCPServer) reply(client *ClientConnection, msg *protocol.ControlMessage) {
	if err := client.SendMessage(msg); err != nil {
		// the read loop will observe the broken connection
		s.logger.Debug("response_send_failed",
			"client_id", client.ID,
			"message_id", msg.ID,
			"error", err.Error(),
		)
	}
}
