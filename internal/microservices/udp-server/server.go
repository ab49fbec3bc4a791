// Package udp implements LAN presence discovery: the host periodically
// broadcasts an announcement and answers explicit discovery probes.
package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"palmcontroller/internal/netutil"
)

const (
	DefaultPort         = 8079
	DefaultInterval     = 3 * time.Second
	DefaultErrorBackoff = 5 * time.Second
	DefaultServiceName  = "PalmController"

	minReadBackoff = 5 * time.Millisecond
	maxReadBackoff = time.Second
)

// probeConn is the part of *net.UDPConn the probe loop uses.
type probeConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Config describes what the server announces and where.
type Config struct {
	Port         int // UDP port to bind, 0 picks a free one
	ServicePort  int // TCP port controllers connect to
	ServiceName  string
	Interval     time.Duration
	ErrorBackoff time.Duration
	ExtraTargets []*net.UDPAddr // unicast seed peers announced to every cycle
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Server represents the UDP discovery server
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex // guards lifecycle
	conn    *net.UDPConn
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	announcements atomic.Uint64
	probes        atomic.Uint64
}

// NewServer creates a new UDP discovery server
func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Start binds the discovery port and starts the announce and probe loops.
// A bind failure is returned and leaves the server stopped. Start on a
// running server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: s.cfg.Port})
	if err != nil {
		s.logger.Error("discovery_start_failed", "port", s.cfg.Port, "error", err)
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel
	s.running = true

	s.wg.Add(2)
	go s.announceLoop(ctx, conn)
	go s.probeLoop(ctx, conn)

	s.logger.Info("discovery_started",
		"address", conn.LocalAddr().String(),
		"service_port", s.cfg.ServicePort,
		"interval", s.cfg.Interval,
	)
	return nil
}

// Stop cancels both loops, closes the socket and waits. Idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	s.conn.Close()
	s.wg.Wait()
	s.conn = nil
	s.logger.Info("discovery_stopped",
		"announcements", s.announcements.Load(),
		"probes", s.probes.Load(),
	)
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LocalAddr returns the bound address, nil when stopped.
func (s *Server) LocalAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// AnnouncementCount returns the number of datagrams successfully broadcast.
func (s *Server) AnnouncementCount() uint64 {
	return s.announcements.Load()
}

// ProbeCount returns the number of discovery probes answered.
func (s *Server) ProbeCount() uint64 {
	return s.probes.Load()
}

func (s *Server) announcement() *Announcement {
	return NewAnnouncement(s.cfg.ServiceName, netutil.LocalIPv4(), s.cfg.ServicePort)
}

// probeLoop answers discovery probes; anything else is ignored.
// Repeated read errors back off up to maxReadBackoff.
func (s *Server) probeLoop(ctx context.Context, conn probeConn) {
	defer s.wg.Done()
	buffer := make([]byte, 4096)
	backoff := minReadBackoff

	for {
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("discovery_read_failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxReadBackoff)
			continue
		}
		backoff = minReadBackoff

		if !IsProbe(buffer[:n]) {
			s.logger.Debug("discovery_datagram_ignored", "from", addr.String(), "size", n)
			continue
		}

		data, err := s.announcement().ToJSON()
		if err != nil {
			s.logger.Error("announcement_marshal_failed", "error", err)
			continue
		}
		if _, err := conn.WriteToUDP(data, addr); err != nil {
			s.logger.Warn("discovery_reply_failed", "to", addr.String(), "error", err)
			continue
		}
		s.probes.Add(1)
		s.logger.Info("discovery_probe_answered", "from", addr.String())
	}
}
