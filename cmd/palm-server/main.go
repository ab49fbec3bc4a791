package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"palmcontroller/database"
	"palmcontroller/internal/audit"
	"palmcontroller/internal/config"
	"palmcontroller/internal/dispatch"
	httpapi "palmcontroller/internal/microservices/http-api"
	"palmcontroller/internal/microservices/relay"
	"palmcontroller/internal/microservices/tcp"
	udp "palmcontroller/internal/microservices/udp-server"
	"palmcontroller/internal/middleware/auth"
	"palmcontroller/pkg/protocol"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Setup structured logging
	logger := config.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var background sync.WaitGroup

	// Optional Redis: volume persistence and the notification relay
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = relay.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			logger.Warn("redis_unavailable_continuing_without", "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	opts := tcp.Options{
		MaxMessageSize: cfg.MaxMessageSize,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.ClientIdleTimeout,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		Logger:         logger,
	}
	if rdb != nil {
		opts.VolumeRepo = relay.NewVolumeRedisRepo(rdb, relay.DefaultVolumeKey)
	}
	server := tcp.NewServer(opts)
	if err := server.LoadVolumeState(ctx); err != nil {
		logger.Warn("volume_state_load_failed", "error", err)
	}

	// Command dispatch
	var tokens *auth.TokenService
	if cfg.JWTSecret != "" {
		tokens = auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	}
	passwordHash := cfg.PairingPasswordHash
	if passwordHash == "" && cfg.PairingPassword != "" {
		if passwordHash, err = auth.HashPassword(cfg.PairingPassword); err != nil {
			log.Fatalf("Failed to hash pairing password: %v", err)
		}
	}

	dispatcher := dispatch.New(server, logger)
	// no mixer binding here: the session manager's cache is the volume
	dispatcher.Handle(protocol.TypeMediaControl, &dispatch.VolumeCapability{
		Cache:  server,
		Sender: server,
		Logger: logger,
	})
	dispatcher.UsePairing(dispatch.NewPairingAuth(passwordHash, tokens, server, logger))
	server.Subscribe(dispatcher)

	// Optional session audit
	var db *gorm.DB
	var events audit.Repository
	if cfg.DatabaseURL != "" {
		db, err = database.OpenGorm(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Warn("database_unavailable_audit_disabled", "error", err)
		} else {
			defer database.Close(db)
			events = audit.NewGormRepository(db)
			recorder := audit.NewRecorder(events, logger)
			server.Subscribe(recorder)

			auditCtx, stopAudit := context.WithCancel(context.Background())
			background.Add(1)
			go func() {
				defer background.Done()
				recorder.Run(auditCtx)
			}()
			// the recorder must outlive the session manager to see the last disconnects
			defer func() {
				stopAudit()
				background.Wait()
			}()
		}
	}

	logger.Info("starting_palm_controller",
		"tcp_port", cfg.TCPPort,
		"discovery", cfg.DiscoveryEnabled,
		"redis", rdb != nil,
		"audit", events != nil,
		"pairing", passwordHash != "",
	)

	if err := server.Start(cfg.TCPPort); err != nil {
		logger.Error("server_error", "error", err.Error())
		os.Exit(1)
	}

	if rdb != nil {
		subscriber := relay.NewSubscriber(rdb, cfg.RedisChannel, server, logger)
		background.Add(1)
		go func() {
			defer background.Done()
			if err := subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay_stopped", "error", err)
			}
		}()
	}

	var discovery *udp.Server
	if cfg.DiscoveryEnabled {
		targets, err := cfg.DiscoveryTargetAddrs()
		if err != nil {
			logger.Warn("discovery_targets_ignored", "error", err)
		}
		discovery = udp.NewServer(udp.Config{
			Port:         cfg.DiscoveryPort,
			ServicePort:  server.Port(),
			ServiceName:  cfg.ServiceName,
			Interval:     cfg.DiscoveryInterval,
			ExtraTargets: targets,
			Logger:       logger,
		})
		if err := discovery.Start(); err != nil {
			// controllers can still connect by address
			logger.Error("discovery_start_failed", "error", err)
			discovery = nil
		}
	}

	var api *httpapi.Server
	if cfg.HTTPEnabled {
		deps := httpapi.Deps{Sessions: server, Events: events, Logger: logger}
		if discovery != nil {
			deps.Discovery = discovery
		}
		if tokens != nil {
			deps.Tokens = tokens
		}
		api = httpapi.NewServer(cfg.HTTPAddr, deps)
		if err := api.Start(); err != nil {
			logger.Error("http_start_failed", "error", err)
			api = nil
		}
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("received_shutdown_signal")

	if api != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := api.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http_shutdown_failed", "error", err)
		}
		stop()
	}
	if discovery != nil {
		discovery.Stop()
	}
	cancel()
	server.Stop()
	logger.Info("server_stopped_gracefully")
}
