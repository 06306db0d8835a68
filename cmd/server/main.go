// @title           API Key Provider
// @version         1.0.0
// @description     API key issuance, organisation wallets and usage metering for the API platform.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                        Authorization
// @description                 "Session token: 'Bearer {token}'. Gateway routes take an API key: 'Bearer sk_live_...' or X-API-Key."
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and pprof are served on dedicated side ports (AKP_TELEMETRY_METRICS_PROMETHEUS_PORT, AKP_TELEMETRY_PROFILING_PORT), not by the API router.

// Package main is the entry point for the key provider server binary.
// It dispatches its subcommands (serve, migrate, bootstrap-orgs, seed-services
// and version) via a simple switch on os.Args so the binary's full CLI surface is
// readable in one place. The serve command runs migrations on startup so freshly
// deployed containers never need a separate migration step.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- served only on the dedicated profiling port, never on the API listener.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/rnblock/api-key-provider/internal/api"
	"github.com/rnblock/api-key-provider/internal/config"
	"github.com/rnblock/api-key-provider/internal/db"
	"github.com/rnblock/api-key-provider/internal/db/repositories"
	"github.com/rnblock/api-key-provider/internal/services"
	"github.com/rnblock/api-key-provider/internal/telemetry"
)

const usage = "Available commands: serve, migrate <up|down>, bootstrap-orgs, seed-services, version"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// Parse command from args
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("API Key Provider v%s\n", api.Version)
		return nil
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	// Execute command
	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "bootstrap-orgs":
		return bootstrapOrganizations(cfg)
	case "seed-services":
		return seedServices(cfg)
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}
}

func serve(cfg *config.Config) error {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	slog.Info("starting key provider", "environment", cfg.Environment, "version", api.Version)

	// Connect to database
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	// Begin exporting DB pool statistics to Prometheus.
	telemetry.StartDBStatsCollector(database)

	// Run migrations automatically on startup
	slog.Info("running database migrations")
	if err := db.RunMigrations(database, db.MigrateUp); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	// Redis is optional; without it the shared limiters and listing cache are disabled
	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = db.ConnectRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()
		slog.Info("connected to redis")
	}

	// Start Prometheus metrics endpoint on a dedicated port so it is not reachable
	// through the public API ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Start pprof endpoint on its own port (disabled in production by default).
	if cfg.Telemetry.Profiling.Enabled {
		pprofAddr := fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port)
		go func() {
			slog.Info("starting pprof server", "addr", pprofAddr)
			// net/http/pprof registers its handlers on http.DefaultServeMux at init time.
			srv := &http.Server{ //nolint:gosec // #nosec G112 -- internal-only pprof port
				Addr:         pprofAddr,
				Handler:      http.DefaultServeMux, // #nosec G108 -- pprof-only internal port
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("pprof server error", "error", err)
			}
		}()
	}

	// Create router
	router, bgServices, err := api.NewRouter(cfg, database, rdb)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("server listening", "addr", cfg.Server.GetAddress(), "public_url", cfg.Server.GetPublicURL())

		var err error
		if cfg.Security.TLS.Enabled {
			slog.Info("TLS enabled", "cert", cfg.Security.TLS.CertFile)
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop scheduled jobs and rate limiter goroutines
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func connect(cfg *config.Config) (*sql.DB, error) {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)

	// Run migrations
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Get current version
	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}

// bootstrapOrganizations creates a default organisation for every user without a membership
func bootstrapOrganizations(cfg *config.Config) error {
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	orgs := services.NewOrganizationService(repositories.NewOrganizationRepository(database))
	created, err := orgs.BootstrapAll(context.Background(), repositories.NewUserRepository(database))
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	slog.Info("organisation bootstrap finished", "created", created)
	return nil
}

// seedServices upserts the default service catalogue
func seedServices(cfg *config.Config) error {
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	catalogue := services.NewCatalogueService(repositories.NewServiceRepository(sqlx.NewDb(database, "postgres")))
	n, err := catalogue.Seed(context.Background())
	if err != nil {
		return fmt.Errorf("seeding services failed after %d entries: %w", n, err)
	}
	slog.Info("service catalogue seeded", "services", n)
	return nil
}
