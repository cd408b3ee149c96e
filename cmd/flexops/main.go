// Package main is the entry point for flexops.
// The single binary runs the task service, the inactivity orchestrator and
// the WebSocket gateway with shared infrastructure.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	// Common packages
	"github.com/flexops/flexops/internal/common/config"
	"github.com/flexops/flexops/internal/common/httpmw"
	"github.com/flexops/flexops/internal/common/logger"
	"github.com/flexops/flexops/internal/common/tracing"

	// Persistence
	"github.com/flexops/flexops/internal/persistence"

	// WebSocket gateway
	gateways "github.com/flexops/flexops/internal/gateway/websocket"

	// Orchestrator
	"github.com/flexops/flexops/internal/orchestrator"

	// Task service packages
	taskhandlers "github.com/flexops/flexops/internal/task/handlers"
	"github.com/flexops/flexops/internal/task/repository"
	taskservice "github.com/flexops/flexops/internal/task/service"

	// Messaging provider
	"github.com/flexops/flexops/internal/twilio"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting flexops...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory unless NATS is configured)
	eventBus, busCleanup, err := provideEventBus(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()

	// 5. Open persistence and the task repository
	pool, dbCleanup, err := persistence.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer dbCleanup()

	taskRepo, repoCleanup, err := repository.Provide(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("Failed to initialize task repository", zap.Error(err))
	}
	defer repoCleanup()

	// ============================================
	// MESSAGING PROVIDER
	// ============================================
	providerClient := twilio.NewClient(cfg.Twilio, log)
	if !providerClient.Configured() {
		log.Warn("Provider credentials missing, outbound messaging disabled")
	}

	// ============================================
	// ORCHESTRATOR
	// ============================================
	log.Info("Initializing Orchestrator...")
	orchestratorSvc := orchestrator.NewService(cfg, taskRepo, providerClient, eventBus, log)

	// ============================================
	// TASK SERVICE
	// ============================================
	log.Info("Initializing Task Service...")
	taskSvc := taskservice.NewService(taskRepo, providerClient, eventBus, cfg.Automation.Author, log)

	// Handoff commands arm and cancel the orchestrator's deadline timers
	// directly; without this the marks still converge on the next poll.
	taskSvc.SetDeadlineController(orchestratorSvc)

	// ============================================
	// WEBSOCKET GATEWAY
	// ============================================
	log.Info("Initializing WebSocket Gateway...")
	gateway, err := gateways.Provide(taskSvc, orchestratorSvc, log)
	if err != nil {
		log.Fatal("Failed to initialize WebSocket gateway", zap.Error(err))
	}

	go gateway.Hub.Run(ctx)
	gateways.RegisterTaskNotifications(ctx, eventBus, gateway.Hub, log)

	if err := orchestratorSvc.Start(ctx); err != nil {
		log.Fatal("Failed to start orchestrator", zap.Error(err))
	}
	log.Info("Orchestrator initialized")

	// ============================================
	// HTTP SERVER (WebSocket + HTTP endpoints)
	// ============================================
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "flexops"))
	router.Use(httpmw.OtelTracing("flexops"))

	// WebSocket endpoint
	gateway.SetupRoutes(router)

	// Task service handlers (CRUD, handoff commands, provider webhook)
	taskhandlers.RegisterTaskRoutes(router, taskSvc, orchestratorSvc, log)
	log.Info("Registered Task Service handlers")

	// Health check (simple HTTP for load balancers/monitoring)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "flexops",
		})
	})

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("API configured",
		zap.String("websocket", "/ws"),
		zap.String("health", "/health"),
		zap.String("http", "/api/v1"),
		zap.String("webhook", "/tasks/twilio/inbound"),
	)

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down flexops...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := orchestratorSvc.Stop(); err != nil {
		log.Error("Orchestrator stop error", zap.Error(err))
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracer shutdown error", zap.Error(err))
	}

	log.Info("flexops stopped")
}
