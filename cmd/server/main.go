package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docsync/internal/api"
	"docsync/internal/config"
	"docsync/internal/controller"
	"docsync/internal/converter"
	"docsync/internal/db"
	"docsync/internal/drafts"
	"docsync/internal/logging"
	"docsync/internal/repository"
	"docsync/internal/services"
	"docsync/internal/services/collaboration"
	"docsync/internal/telemetry"
	"docsync/internal/validation"
)

/*
LEARNING: GRACEFUL SHUTDOWN PATTERN WITH OBSERVABILITY

This main function demonstrates:
1. Service initialization and dependency injection
2. Concurrent server and worker pool management
3. Distributed tracing with Jaeger
4. Graceful shutdown handling (listening for SIGINT/SIGTERM)
5. Proper resource cleanup order: sessions flush their local drafts before
   the draft store and the database close
*/

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)
	log.Info("🚀 Starting document sync server...")

	// Initialize Jaeger tracing
	// Learning: Do this FIRST so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger(context.Background(), telemetry.Config{
		ServiceName:    "docsync",
		ServiceVersion: cfg.ServiceVersion,
		Endpoint:       cfg.JaegerEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
		Logger:         log,
	})
	if err != nil {
		log.WithError(err).Warn("⚠️  Failed to initialize Jaeger (continuing without tracing)")
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.WithError(err).Warn("⚠️  Failed to shutdown Jaeger")
		}
	}()

	// Initialize GORM database
	database, err := db.NewGorm(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("❌ Failed to connect to database")
	}
	defer database.Close()

	// Local draft store
	// Learning: Badger keeps unsaved work on disk between editing sessions
	kv, err := drafts.NewBadgerKV(drafts.BadgerConfig{Path: cfg.DraftDir, Logger: log})
	if err != nil {
		log.WithError(err).Fatal("❌ Failed to open draft store")
	}
	defer kv.Close()
	draftStore := drafts.NewStore(kv, drafts.Config{Compress: cfg.DraftCompression, Logger: log})

	conv := converter.New(converter.Options{
		AssetBaseURL: cfg.AssetCDNBase,
		ProjectID:    cfg.AssetProjectID,
		Dataset:      cfg.AssetDataset,
		Logger:       log,
	})
	validate := validation.New()

	// Initialize repositories
	docRepo := repository.NewDocumentRepository(database.DB)
	revRepo := repository.NewRevisionRepository(database.DB)

	// Initialize revision service with worker pool
	// Learning: This creates the worker pool but doesn't start it yet
	revService := services.NewRevisionService(
		revRepo,
		cfg.RevisionWorkers,
		cfg.RevisionQueueSize,
		cfg.RevisionKeep,
		log,
	)

	// Start the worker pool
	// Learning: This spawns goroutines that will process jobs concurrently
	revService.Start()

	docService := services.NewDocumentService(docRepo, revService, validate, log)

	// Initialize WebSocket session manager
	// Learning: every connection gets its own sync controller
	sessionManager := collaboration.NewSessionManager(controller.Deps{
		Repo:      docService,
		Slugs:     docService,
		Drafts:    draftStore,
		Converter: conv,
		Validator: validate,
	}, controller.Options{
		LocalSyncInterval: cfg.LocalSyncInterval,
		AutosaveDelay:     cfg.AutosaveDelay,
		SlugCheckDelay:    cfg.SlugCheckDelay,
		SaveTimeout:       cfg.SaveTimeout,
	}, log)
	docService.OnChange(sessionManager.DocumentChanged)
	sessionManager.Start()

	// Initialize WebSocket handler
	wsHandler := collaboration.NewWebSocketHandler(sessionManager)

	// Initialize handlers with dependency injection
	handler := api.NewHandler(docService, revService, conv, wsHandler, log)

	// Setup routes
	router := api.SetupRoutes(handler, log)

	// Configure HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	// Learning: This allows us to handle shutdown signals concurrently
	go func() {
		log.WithField("addr", addr).Info("🌐 Server listening")
		log.Info("📚 API Endpoints:")
		log.Info("   POST   /api/documents                 - Create draft")
		log.Info("   GET    /api/documents                 - List documents")
		log.Info("   GET    /api/documents/:id             - Get document")
		log.Info("   PATCH  /api/documents/:id             - Save draft patch")
		log.Info("   POST   /api/documents/:id/publish     - Publish / schedule / unpublish")
		log.Info("   GET    /api/documents/:id/revisions   - Change history")
		log.Info("   DELETE /api/documents/:id             - Delete document")
		log.Info("   WS     /ws/documents/:id              - Editing session")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("❌ Server error")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	// Learning: This is the graceful shutdown pattern
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("🛑 Shutting down server...")

	// Shutdown HTTP server with timeout
	// Learning: Give the server 30 seconds to finish existing requests
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("⚠️  Server forced to shutdown")
	}

	// Shutdown WebSocket session manager
	// Learning: closing a session waits for its in-flight saves and writes its
	// last local draft, so this must run before the deferred badger and
	// database closes
	sessionManager.Shutdown()

	// Shutdown revision service
	// Learning: This waits for workers to finish their current jobs
	revService.Shutdown()

	log.Info("✓ Server shutdown complete")
}
