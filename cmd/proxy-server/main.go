package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"proxysync/internal/audit"
	"proxysync/internal/config"
	"proxysync/internal/crossproxy"
	"proxysync/internal/host"
	"proxysync/internal/logging"
	"proxysync/internal/microservices/http-api/handler"
	"proxysync/internal/microservices/http-api/service"
	"proxysync/internal/microservices/tcp"
	"proxysync/internal/text"
)

const shutdownTimeout = 10 * time.Second

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
	logger := logging.New(cfg.Sync.LogLevel, cfg.Sync.LogFormat).With("server_id", cfg.ServerID)
	slog.SetDefault(logger)

	// Host loop owns every session mutation
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loop := host.NewLoop(cfg.Sync.QueueSize, logger)
	go loop.Run(loopCtx)

	manager := tcp.NewConnectionManager(cfg.BackendServers, cfg.DefaultServer, logger)

	// Optional audit log
	var recorder *audit.Recorder
	if cfg.AuditEnabled() {
		store, err := audit.OpenGormStore(cfg.DatabaseURL)
		if err != nil {
			logger.Error("audit_unavailable", "error", err)
		} else {
			recorder = audit.NewRecorder(store, audit.Options{Instance: cfg.ServerID}, logger)
			recorder.Start(context.Background())
		}
	}

	// Cross-proxy sync; failures leave the instance serving local sessions
	var rec crossproxy.Recorder
	if recorder != nil {
		rec = recorder
	}
	cluster := crossproxy.NewService(cfg.ServiceOptions(), manager, text.LegacyRenderer{}, loop, rec, logger)
	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.Sync.DialTimeout+time.Second)
	if err := cluster.Start(startCtx); err != nil {
		logger.Warn("cross_proxy_unavailable", "error", err, "state", cluster.State().String())
	}
	cancelStart()

	// Session front
	tcpServer := tcp.NewServer(tcp.ServerOptions{
		Addr:                   fmt.Sprintf(":%d", cfg.TCPPort),
		DuplicateSessionReason: cfg.DuplicateSessionReason,
		TeamChatPermission:     cfg.TeamChatPermission,
		ShutdownGrace:          200 * time.Millisecond,
	}, manager, tcp.NewTCPAuthService(cfg.JWTSecret), loop, cluster, logger)
	if err := tcpServer.Listen(); err != nil {
		log.Fatalf("Failed to start TCP server: %v", err)
	}

	errChan := make(chan error, 2)
	go func() {
		if err := tcpServer.Serve(); err != nil {
			errChan <- err
		}
	}()

	// Admin API
	var httpServer *http.Server
	if cfg.AdminAPIEnabled() {
		if cfg.IsProduction() {
			gin.SetMode(gin.ReleaseMode)
		}
		router := handler.NewRouter(handler.NewClusterHandler(cluster, logger), service.NewTokenService(cfg.AdminJWTSecret))
		httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("admin_api_listening", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	logger.Info("proxy_server_started",
		"tcp_port", cfg.TCPPort,
		"admin_api", cfg.AdminAPIEnabled(),
		"audit", recorder != nil,
		"sync_state", cluster.State().String(),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("received_shutdown_signal", "signal", sig.String())
	case err := <-errChan:
		logger.Error("server_error", "error", err)
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)

	tcpServer.Stop()
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("admin_api_shutdown_failed", "error", err)
		}
	}
	cluster.Shutdown(ctx)
	stopLoop()
	<-loop.Done()
	if err := recorder.Close(); err != nil {
		logger.Error("audit_close_failed", "error", err)
	}

	cancel()

	logger.Info("server_stopped_gracefully")
	os.Exit(exitCode)
}
