package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcusv/ionbridge/internal/api"
	"github.com/marcusv/ionbridge/internal/config"
	"github.com/marcusv/ionbridge/internal/ion"
	"github.com/marcusv/ionbridge/internal/logger"
	"github.com/marcusv/ionbridge/internal/repository"
	"github.com/marcusv/ionbridge/internal/service"
	"github.com/marcusv/ionbridge/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.GetDefault().WithError(err).Fatal("Failed to load config")
	}

	// Initialize logger
	log := logger.NewDefault()
	logger.SetDefaultLogger(log)
	defer logger.Sync()

	// Initialize MongoDB
	ctx := context.Background()
	mongoClient, db, err := repository.Connect(ctx, &cfg.Mongo)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer mongoClient.Disconnect(ctx)

	if err := repository.EnsureIndexes(ctx, db, cfg.Mongo.JobRetention); err != nil {
		log.WithError(err).Fatal("Failed to create indexes")
	}

	// Initialize repositories
	jobRepo := repository.NewSyncJobRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	settingRepo := repository.NewSettingRepository(db)

	// Initialize ION client. Missing credentials are not fatal: the status
	// and settings APIs still work, and sync starts will fail with a clear
	// error.
	var tokens *ion.TokenSource
	creds, err := ion.LoadCredentials(cfg.ION.CredentialsPath)
	if err != nil {
		log.WithError(err).Warn("ION credentials unavailable, sync requests will fail until configured")
	} else {
		tokens = ion.NewTokenSource(creds, cfg.ION.RequestTimeout)
	}

	ionClient := ion.NewClient(&ion.Config{
		BaseURL:        cfg.ION.BaseURL,
		RequestTimeout: cfg.ION.RequestTimeout,
		PollInitial:    cfg.ION.PollInitial,
		PollMax:        cfg.ION.PollMax,
		PollDeadline:   cfg.ION.PollDeadline,
	}, tokens, log)

	// Initialize failed-page archive when enabled
	var archive storage.ObjectStorage
	if cfg.Archive.Enabled {
		archive, err = storage.NewS3Storage(&storage.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			UseSSL:    cfg.Archive.UseSSL,
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
		})
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize archive storage")
		}
	}

	// Initialize sync engine
	engine := service.NewEngine(ionClient, jobRepo, docRepo, archive, log, service.EngineConfig{
		DefaultBatchSize:     cfg.Sync.DefaultBatchSize,
		DefaultRecordCeiling: cfg.Sync.DefaultRecordCeiling,
		PageDelay:            cfg.Sync.PageDelay,
		PausePollInterval:    cfg.Sync.PausePollInterval,
	})

	// Setup router
	router := api.SetupRouter(engine, jobRepo, settingRepo, cfg, log)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("Server forced to shutdown")
	}

	log.Info("Server exited")
}
