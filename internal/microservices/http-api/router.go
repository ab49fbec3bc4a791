// Package httpapi is the local admin API of the host: status, connected
// clients, pushing messages and volume changes from scripts.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"palmcontroller/internal/audit"
	"palmcontroller/internal/microservices/http-api/handler"
	"palmcontroller/internal/microservices/http-api/middleware"
	"palmcontroller/internal/middleware/auth"
)

const DefaultAddr = "127.0.0.1:8081"

type Deps struct {
	Sessions  handler.SessionService
	Discovery handler.DiscoveryService  // optional
	Events    audit.Repository          // optional
	Tokens    middleware.TokenValidator // nil leaves /api open
	Logger    *slog.Logger
}

// NewRouter builds the gin engine. With a token validator every /api route
// needs an admin-scope bearer token; /healthz is always open.
func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "running": deps.Sessions.IsRunning()})
	})

	api := r.Group("/api")
	if deps.Tokens != nil {
		api.Use(middleware.AuthMiddleware(deps.Tokens), middleware.RequireScope(auth.ScopeAdmin))
	}
	handler.NewSessionHandler(deps.Sessions, deps.Discovery, deps.Events).RegisterRoutes(api)

	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Server runs the router on its own listener so it can be shut down.
type Server struct {
	addr   string
	engine *gin.Engine
	logger *slog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

func NewServer(addr string, deps Deps) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, engine: NewRouter(deps), logger: logger}
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http_server_failed", "error", err)
		}
	}()

	s.srv, s.listener, s.done = srv, ln, done
	s.logger.Info("http_server_started", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.listener = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	<-done
	s.logger.Info("http_server_stopped")
	return err
}
