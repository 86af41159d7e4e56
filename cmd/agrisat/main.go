package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/swisscorp/agrisat/internal/api/http"
	"github.com/swisscorp/agrisat/internal/chat"
	"github.com/swisscorp/agrisat/internal/config"
	"github.com/swisscorp/agrisat/internal/imagery/sentinel"
	"github.com/swisscorp/agrisat/internal/monitor"
	"github.com/swisscorp/agrisat/internal/ndvi"
	"github.com/swisscorp/agrisat/internal/registry"
	"github.com/swisscorp/agrisat/internal/scheduler"
	"github.com/swisscorp/agrisat/internal/store"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Supplier registry: built-in set unless a YAML override is given.
	reg := registry.Default()
	if cfg.SuppliersFile != "" {
		reg, err = registry.LoadFile(cfg.SuppliersFile)
		if err != nil {
			log.Fatalf("failed to load suppliers: %v", err)
		}
	}

	// Shared HTTP client for outbound catalog calls.
	httpClient := &http.Client{
		Timeout: cfg.CatalogTimeout,
	}

	// Imagery catalog adapter. Missing credentials surface as a degraded
	// source on first use, not a startup crash.
	catalog := sentinel.NewClient(sentinel.Config{
		BaseURL:      cfg.CatalogURL,
		Collection:   cfg.CatalogCollection,
		TokenURL:     cfg.CatalogTokenURL,
		ClientID:     cfg.CatalogClientID,
		ClientSecret: cfg.CatalogClientSecret,
		Timeout:      cfg.CatalogTimeout,
		HTTPClient:   httpClient,
	})
	defer catalog.Close()
	if cfg.CatalogClientID == "" {
		log.Println("INFO: catalog credentials not configured; NDVI endpoints will report degraded")
	}

	// Observation selector over the catalog.
	service := monitor.NewService(catalog, ndvi.DefaultThresholds(), monitor.DefaultPolicy(), nil)

	// Snapshot store feeding the analytics summary.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	// Background refresh job sampling every supplier.
	sched := scheduler.New(reg.All(), cfg.RefreshInterval, service, memStore, scheduler.Options{
		RadiusMeters:  cfg.DefaultRadiusM,
		DaysBack:      cfg.DefaultDaysBack,
		MaxCloudCover: cfg.MaxCloudCover,
	})
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Chat agent; runs in demo mode without an API key.
	agent, err := chat.NewAgent(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatalf("failed to create chat agent: %v", err)
	}
	if agent.DemoMode() {
		log.Println("INFO: GEMINI_API_KEY not set; chat runs in demo mode")
	}

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "agrisat",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// API routes.
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Service:  service,
		Registry: reg,
		Source:   catalog,
		Store:    memStore,
		Chat:     agent,
		Defaults: httpapi.Defaults{
			RadiusMeters:  cfg.DefaultRadiusM,
			DaysBack:      cfg.DefaultDaysBack,
			MonthsBack:    cfg.DefaultMonthsBack,
			MaxCloudCover: cfg.MaxCloudCover,
		},
	})

	// Start server with graceful shutdown
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Port
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
