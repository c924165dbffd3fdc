/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty rules engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags (optionally over a TOML config file)
  2. Initialize the store (SQLite, or in-memory when -db is empty)
  3. Load the rule catalog (directory of JSON files, or the demo catalog)
  4. Wire facts, calculator, and processor
  5. Configure HTTP router and the reload scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  TOML config file; explicit flags override file values
  -listen  HTTP listen address (default: :8080)
  -db      SQLite database path (default: loyalty.db)
           Empty string runs the in-memory store
  -rules   Directory of JSON rule files
  -reload  Catalog reload interval in minutes (0 disables)
  -demo    Built-in demo catalog and seed consumers

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reload scheduler
  4. Close the database connection
  5. Exit

EXAMPLES:
  # Run with a rule directory and file database
  ./server -rules=./rules -db=./data/loyalty.db

  # Run the demo in memory
  ./server -demo -db=""

  # Run from a config file, hot-reloading rules every 15 minutes
  ./server -config=loyalty.toml -reload=15

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - config/config.go: The TOML file shape
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/loyalty-engine/api"
	"github.com/warp/loyalty-engine/config"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/loyalty/store"
	"github.com/warp/loyalty-engine/rewards"
	"github.com/warp/loyalty-engine/store/sqlite"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file path")
		listen     = flag.String("listen", ":8080", "HTTP listen address")
		dbPath     = flag.String("db", "loyalty.db", "SQLite database path (empty for in-memory)")
		rulesDir   = flag.String("rules", "", "directory of JSON rule files")
		reloadMin  = flag.Int("reload", 0, "catalog reload interval in minutes (0 disables)")
		demo       = flag.Bool("demo", false, "run the built-in demo catalog and seed data")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Configuration: defaults, then the file, then explicit flags.
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(logger, "config load failed", err)
		}
		cfg = loaded
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "db":
			cfg.DatabasePath = *dbPath
		case "rules":
			cfg.RulesDir = *rulesDir
		case "reload":
			cfg.ReloadMinutes = *reloadMin
		case "demo":
			cfg.Demo = *demo
		}
	})
	if err := cfg.Validate(); err != nil {
		fatal(logger, "invalid configuration", err)
	}

	// Store
	var consumerStore loyalty.ConsumerStore
	if cfg.DatabasePath == "" {
		logger.Info("using in-memory store")
		consumerStore = store.NewMemory()
	} else {
		sq, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			fatal(logger, "database init failed", err)
		}
		defer sq.Close()
		logger.Info("using sqlite store", "path", cfg.DatabasePath)
		consumerStore = sq
	}

	// Rule catalog
	var catalog *factory.Catalog
	if cfg.RulesDir != "" {
		c, err := factory.NewCatalog(cfg.RulesDir, logger)
		if err != nil {
			fatal(logger, "rule catalog load failed", err)
		}
		catalog = c
	} else {
		rules, err := api.DemoRules()
		if err != nil {
			fatal(logger, "demo catalog broken", err)
		}
		c, err := factory.NewStaticCatalog(rules, logger)
		if err != nil {
			fatal(logger, "demo catalog broken", err)
		}
		catalog = c
	}
	if cfg.Demo {
		if err := api.SeedDemo(context.Background(), consumerStore, logger); err != nil {
			fatal(logger, "demo seed failed", err)
		}
	}

	// Pipeline
	processor := loyalty.NewProcessor(consumerStore, catalog, loyalty.StandardFacts(), rewards.NewCalculator(), logger)

	// HTTP surface
	handler := api.NewHandler(consumerStore, processor, catalog, logger)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	// Background maintenance
	scheduler := api.NewScheduler(catalog, processor, time.Duration(cfg.ReloadMinutes)*time.Minute, logger)
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("🚀 server starting", "addr", cfg.Listen, "rules", catalog.Len())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, "server failed", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		fatal(logger, "server forced to shutdown", err)
	}
	scheduler.Stop()

	logger.Info("server stopped")
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
