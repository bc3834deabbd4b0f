package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mailforge/config"
	"mailforge/middleware"
	"mailforge/routes"
	"mailforge/runner"
	"mailforge/store"
	"mailforge/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if config.AppConfig.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName: "mailforge",
	})

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Start background workers
	st := store.New(config.DB)
	run := runner.New(config.DB, st, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.NewDispatchWorker(config.DB, run, logger).Start(ctx)
	go worker.NewResetWorker(st, logger).Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, logger)

	// Shut down cleanly on SIGINT/SIGTERM so in-flight runs stop at their
	// next suspension point.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
		app.Shutdown()
	}()

	// Start server
	logger.Infof("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
