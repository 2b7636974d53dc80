package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dvloznov/offline-ledger/internal/api"
	"github.com/dvloznov/offline-ledger/internal/config"
	"github.com/dvloznov/offline-ledger/internal/engine"
	"github.com/dvloznov/offline-ledger/internal/localstore"
	"github.com/dvloznov/offline-ledger/internal/logger"
	"github.com/dvloznov/offline-ledger/internal/remote"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", os.Getenv("LEDGER_CONFIG"), "config file (or set LEDGER_CONFIG env)")
		addr       = flag.String("addr", "", "listen address, overrides server.addr")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New().Fatal().Err(err).Msg("Failed to load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	// Initialize logger
	log := logger.NewWithLevel(cfg.Logging.Level)
	if cfg.DeviceID != "" {
		log = logger.WithFields(log, map[string]interface{}{"device_id": cfg.DeviceID})
	}

	ctx := context.Background()

	// Local store
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage directory")
	}
	backend, err := localstore.NewSQLiteBackend(cfg.Storage.Path, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open local store")
	}

	// Remote store is optional; the server keeps serving local data without it.
	var store remote.Store
	if cfg.RemoteEnabled() {
		fs, err := remote.NewFirestoreStore(ctx, cfg.Remote.ProjectID, cfg.Remote.DatabaseID, log)
		if err != nil {
			log.Warn().Err(err).Msg("Remote store unavailable - running offline")
		} else {
			store = fs
		}
	} else {
		log.Warn().Msg("No remote configured - sync is disabled")
	}

	eng, err := engine.New(engine.Options{
		Local:         localstore.New(backend),
		Remote:        store,
		SnapshotDelay: cfg.Sync.SnapshotDebounce,
		Logger:        log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	if cfg.UserID != "" {
		if err := eng.Open(ctx, cfg.UserID); err != nil {
			log.Error().Err(err).Str("user_id", cfg.UserID).Msg("Failed to start remote session")
		}
	}

	handler := api.NewHandler(api.Options{
		Ledger: eng,
		Events: eng.Events(),
		Token:  cfg.Server.Token,
		Log:    log,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Bool("online", eng.Online()).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Flush the pending snapshot and wait for in-flight replication
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down engine")
	}

	log.Info().Msg("Server exited")
}
