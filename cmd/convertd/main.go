package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/convertd/cmd/convertd/container"
	"github.com/lyzr/convertd/cmd/convertd/routes"
	"github.com/lyzr/convertd/common/config"
	"github.com/lyzr/convertd/common/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env if present (local development)
	_ = godotenv.Load()

	cfg, err := config.Load("convertd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize service container", "error", err)
		os.Exit(1)
	}

	// Workers, reaper and watchdog run until the signal context cancels
	serviceContainer.StartBackground(ctx)

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, serviceContainer)
	registerRoutes(e, serviceContainer)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Service.Port)
		log.Info("Starting convertd", "port", cfg.Service.Port, "env", cfg.Service.Environment)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("Server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", "error", err)
	}
	serviceContainer.Shutdown()
	log.Info("Shutdown complete")
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, c *container.Container) {
	e.GET("/health", func(ec echo.Context) error {
		status := map[string]string{
			"status":  "ok",
			"service": "convertd",
		}
		if c.Redis != nil {
			if err := c.Redis.Ping(ec.Request().Context()); err != nil {
				status["status"] = "degraded"
				status["redis"] = err.Error()
				return ec.JSON(http.StatusServiceUnavailable, status)
			}
		}
		return ec.JSON(http.StatusOK, status)
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterFileRoutes(e, serviceContainer)
	routes.RegisterProcessRoutes(e, serviceContainer)
	routes.RegisterDownloadRoutes(e, serviceContainer)
	routes.RegisterAuditRoutes(e, serviceContainer)
}
