package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/encounter-risk-server/internal/api"
	"github.com/encounter-risk-server/internal/audit"
	"github.com/encounter-risk-server/internal/config"
	"github.com/encounter-risk-server/internal/database"
	"github.com/encounter-risk-server/internal/domain"
	"github.com/encounter-risk-server/internal/encounter"
	"github.com/encounter-risk-server/internal/repository"
	"github.com/encounter-risk-server/internal/service"
	"github.com/encounter-risk-server/pkg/external"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run migrations, then open the connection pool.
	if err := database.Migrate(ctx, cfg.Database, logger); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	encounterRepo := repository.NewEncounterRepository(db.Pool, logger)

	// Finalize audit trail
	auditStore, err := newAuditStore(cfg.Audit)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open audit store")
	}
	if auditStore != nil {
		defer auditStore.Close()
	}

	// Prediction service with optional Redis cache. A missing cache only
	// costs repeat model calls, so it never blocks startup.
	var cache *external.CacheClient
	if cfg.Cache.Enabled {
		cache, err = external.NewCacheClient(cfg.Cache)
		if err != nil {
			logger.WithError(err).Warn("Prediction cache unavailable, continuing without it")
			cache = nil
		}
	}
	prediction := external.NewResilientPredictionService(cfg.Prediction, cache, logger)

	analysis, err := service.NewAnalysisService(logger, prediction, cfg.Cache.MemoSize)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create analysis service")
	}

	manager := encounter.NewManager(logger, encounterRepo, auditStore)

	checks := map[string]api.HealthChecker{
		"database":   db,
		"prediction": prediction,
	}

	server := api.NewServer(configManager, logger, analysis, manager, auditStore, checks)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting encounter risk server")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newLogger builds the application logger from configuration.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return logger
}

// newAuditStore opens the configured finalize audit backend. A "none"
// backend disables the trail.
func newAuditStore(cfg domain.AuditConfig) (audit.Store, error) {
	switch cfg.Backend {
	case "postgres":
		return audit.NewPostgresStoreFromURL(cfg.DatabaseURL)
	case "sqlite":
		return audit.NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, nil
	}
}
