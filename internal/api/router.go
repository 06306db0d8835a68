// Package api wires together all HTTP routes of the key provider.
//
// Route grouping:
//   - /api/v1 dashboard routes require a session token (Bearer header or session cookie).
//     Routes under /orgs/:orgId additionally require membership of that organisation.
//   - /api/v1/gateway routes are called by the API gateway with the customer's API key and are
//     limited per key.
//   - /api/auth routes are public and limited per client IP.
//   - /api/stripe/webhook and /api/jobs/send-email authenticate by signature or shared secret.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/rnblock/api-key-provider/internal/api/admin"
	"github.com/rnblock/api-key-provider/internal/api/gateway"
	"github.com/rnblock/api-key-provider/internal/api/webhooks"
	"github.com/rnblock/api-key-provider/internal/audit"
	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/auth/oidc"
	"github.com/rnblock/api-key-provider/internal/config"
	"github.com/rnblock/api-key-provider/internal/db/repositories"
	"github.com/rnblock/api-key-provider/internal/jobs"
	"github.com/rnblock/api-key-provider/internal/mail"
	"github.com/rnblock/api-key-provider/internal/middleware"
	"github.com/rnblock/api-key-provider/internal/ratelimit"
	"github.com/rnblock/api-key-provider/internal/services"
	"github.com/rnblock/api-key-provider/internal/validation"
)

// Version is reported by /version and overridden at link time
var Version = "0.1.0"

const oidcDiscoveryTimeout = 15 * time.Second

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	scheduler    *jobs.Scheduler
	rateLimiters []*middleware.RateLimiter
	audit        *audit.Recorder
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.scheduler != nil {
		bg.scheduler.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.audit != nil {
		if err := bg.audit.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. rdb may be nil, in which case listing caches,
// shared rate limits and email send limits are disabled.
func NewRouter(cfg *config.Config, db *sql.DB, rdb *redis.Client) (*gin.Engine, *BackgroundServices, error) {
	validation.Register()
	router := gin.New()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	auditShippers, err := audit.NewShippers(cfg.Audit)
	if err != nil {
		return nil, nil, err
	}
	auditRecorder := audit.NewRecorder(auditRepo, auditShippers...)
	orgRepo := repositories.NewOrganizationRepository(db)
	walletRepo := repositories.NewWalletRepository(db)
	billingRepo := repositories.NewBillingRepository(db)

	// Catalogue and usage queries use sqlx struct scanning
	sqlxDB := sqlx.NewDb(db, "postgres")
	serviceRepo := repositories.NewServiceRepository(sqlxDB)
	usageRepo := repositories.NewUsageRepository(sqlxDB)

	// Session tokens
	sessionSecret := cfg.Auth.Session.Secret
	if sessionSecret == "" {
		generated, err := auth.GenerateSessionSecret()
		if err != nil {
			return nil, nil, err
		}
		slog.Warn("auth.session.secret not set; using a random secret, sessions will not survive a restart")
		sessionSecret = generated
	}
	tokens, err := auth.NewTokenIssuer(sessionSecret, cfg.Auth.Session.TTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session issuer: %w", err)
	}

	// Redis-backed pieces fall back to no-ops without a client
	var (
		keyCache    services.KeyListingCache = services.NoopKeyCache{}
		authLimiter middleware.Limiter
		keyLimiter  middleware.Limiter
		sendLimits  services.SendLimiter
	)
	if rdb != nil {
		keyCache = services.NewRedisKeyCache(rdb, cfg.Auth.APIKeys.ListingCacheTTL)
		keyLimiter = ratelimit.NewKeyLimiter(rdb, cfg.Security.APIKeyLimit.PerSecond)
		sendLimits = mail.NewSendLimits(rdb, cfg.Email.Limits)
		if cfg.Security.AuthRateLimit.Enabled && cfg.IsProduction() {
			authLimiter = ratelimit.NewSlidingWindow(rdb, "ratelimit:auth:",
				cfg.Security.AuthRateLimit.Requests, cfg.Security.AuthRateLimit.Window)
		}
	} else {
		slog.Warn("redis not configured; key listing cache and shared rate limits are disabled")
	}

	// Initialize services
	hasher := auth.NewKeyHasher(cfg.Auth.APIKeys.Pepper)
	gate := services.NewPermissionGate(orgRepo)
	keyService := services.NewKeyService(apiKeyRepo, gate, hasher, keyCache, auditRecorder)
	orgService := services.NewOrganizationService(orgRepo)
	walletService := services.NewWalletService(walletRepo, orgRepo, gate)
	usageService := services.NewUsageService(usageRepo, gate)
	catalogue := services.NewCatalogueService(serviceRepo)
	gatewayService := services.NewGatewayService(apiKeyRepo, hasher, serviceRepo, usageRepo, walletRepo, keyCache)
	dispatcher := mail.NewDispatcher(cfg)

	var checkout services.CheckoutCreator
	if cfg.Stripe.SecretKey != "" {
		checkout = services.NewStripeCheckout(cfg.Stripe.SecretKey)
	}
	billingService := services.NewBillingService(billingRepo, checkout, cfg)

	accounts := services.NewAccountService(userRepo, orgService, tokens, dispatcher, sendLimits, services.AccountOptions{
		PublicURL:                cfg.Server.GetPublicURL(),
		RequireEmailVerification: cfg.Auth.RequireEmailVerification,
	})

	// OIDC providers are optional; a provider that fails discovery disables social sign-in
	var registry *oidc.Registry
	if len(cfg.Auth.OIDC.Providers) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), oidcDiscoveryTimeout)
		registry, err = oidc.NewRegistry(ctx, cfg.Auth.OIDC.Providers)
		cancel()
		if err != nil {
			slog.Error("failed to initialize OIDC providers; social sign-in disabled", "error", err)
			registry = nil
		} else {
			slog.Info("OIDC providers configured", "providers", registry.Names())
		}
	}

	// Background jobs
	scheduler := jobs.NewScheduler()
	if cfg.Jobs.Enabled {
		if err := registerJobs(scheduler, cfg, walletRepo, apiKeyRepo, keyCache, userRepo, dispatcher); err != nil {
			return nil, nil, err
		}
		scheduler.Start()
	}

	// Initialize handlers
	authHandlers := admin.NewAuthHandlers(cfg, accounts, admin.ProvidersFromRegistry(registry))
	apiKeyHandlers := admin.NewAPIKeyHandlers(keyService)
	orgHandlers := admin.NewOrganizationHandlers(orgService, accounts, auditRepo)
	statsHandlers := admin.NewStatsHandlers(walletService, usageService, catalogue)
	billingHandlers := admin.NewBillingHandlers(accounts, billingService, dispatcher, cfg.Email.SupportAddress)
	gatewayHandlers := gateway.NewHandlers(gatewayService)
	stripeWebhookHandler := webhooks.NewStripeWebhookHandler(billingService)
	emailJobHandler := webhooks.NewEmailJobHandler(dispatcher, cfg.Email.CronSecret)

	// In-process limiter for dashboard routes
	var rateLimiters []*middleware.RateLimiter
	var generalLimit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if cfg.Security.RateLimiting.Enabled {
		generalRateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfigFrom(cfg.Security.RateLimiting))
		rateLimiters = append(rateLimiters, generalRateLimiter)
		generalLimit = middleware.RateLimitMiddleware(generalRateLimiter)
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg)))

	// Health and readiness
	router.GET("/api/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, rdb))
	router.GET("/version", versionHandler())

	// Authentication endpoints (public, limited per client IP)
	authGroup := router.Group("/api/auth")
	authGroup.Use(middleware.AuthRateLimit(authLimiter))
	{
		authGroup.POST("/sign-up/email", authHandlers.SignUpHandler())
		authGroup.POST("/sign-in/email", authHandlers.SignInHandler())
		authGroup.POST("/sign-out", authHandlers.SignOutHandler())
		authGroup.GET("/session", middleware.OptionalSessionAuth(tokens), authHandlers.GetSessionHandler())
		authGroup.GET("/verify-email", authHandlers.VerifyEmailHandler())
		authGroup.POST("/forget-password", authHandlers.ForgetPasswordHandler())
		authGroup.POST("/reset-password", authHandlers.ResetPasswordHandler())
		authGroup.GET("/oauth/:provider/login", authHandlers.OAuthLoginHandler())
		authGroup.GET("/oauth/:provider/callback", authHandlers.OAuthCallbackHandler())
	}

	// Stripe: webhook is authenticated by signature, checkout by session
	router.POST("/api/stripe/webhook", stripeWebhookHandler.HandleWebhook)
	router.POST("/api/stripe/create-checkout",
		middleware.SessionAuth(tokens),
		generalLimit,
		middleware.AuditMiddleware(auditRecorder, cfg.Audit, "billing.checkout", "checkout"),
		billingHandlers.CreateCheckoutHandler())

	// Public contact form
	router.POST("/api/contact", generalLimit, billingHandlers.ContactHandler())

	// Queue callback for deferred email
	router.POST(mail.SendEmailPath, emailJobHandler.HandleSendEmail)

	// Gateway endpoints (API key auth, limited per key)
	gatewayGroup := router.Group("/api/v1/gateway")
	gatewayGroup.Use(middleware.APIKeyAuth(gatewayService))
	gatewayGroup.Use(middleware.APIKeyRateLimit(keyLimiter))
	{
		gatewayGroup.GET("/introspect", gatewayHandlers.IntrospectHandler())
		gatewayGroup.POST("/usage", gatewayHandlers.RecordUsageHandler())
	}

	// Dashboard endpoints (session auth)
	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.SessionAuth(tokens))
	apiV1.Use(generalLimit)
	{
		apiV1.GET("/orgs", orgHandlers.ListOrganizationsHandler())
		apiV1.POST("/orgs/default",
			middleware.AuditMiddleware(auditRecorder, cfg.Audit, "organization.create", "organization"),
			orgHandlers.CreateDefaultOrganizationHandler())

		// Organisation-scoped routes; the key service applies the per-operation role sets
		orgGroup := apiV1.Group("/orgs/:orgId")
		orgGroup.Use(middleware.RequireOrgRole(gate))
		{
			orgGroup.POST("/keys", apiKeyHandlers.CreateAPIKeyHandler())
			orgGroup.GET("/keys", apiKeyHandlers.ListAPIKeysHandler())
			orgGroup.GET("/wallet", statsHandlers.GetWalletHandler())
			orgGroup.GET("/usage", statsHandlers.ListUsageHandler())
			orgGroup.GET("/audit-logs",
				middleware.RequireOrgRole(gate, auth.RoleOwner, auth.RoleAdmin),
				orgHandlers.ListAuditLogsHandler())
		}

		// Key routes resolve the organisation from the key itself
		apiV1.PATCH("/keys/:keyId", apiKeyHandlers.UpdateAPIKeyHandler())
		apiV1.POST("/keys/:keyId/revoke", apiKeyHandlers.RevokeAPIKeyHandler())
		apiV1.DELETE("/keys/:keyId", apiKeyHandlers.DeleteAPIKeyHandler())

		apiV1.GET("/me/test-wallet", statsHandlers.GetTestWalletHandler())
		apiV1.GET("/me/credits", statsHandlers.GetCreditsHandler())
		apiV1.GET("/services", statsHandlers.ListServicesHandler())
	}

	bg := &BackgroundServices{
		scheduler:    scheduler,
		rateLimiters: rateLimiters,
		audit:        auditRecorder,
	}

	return router, bg, nil
}

// registerJobs schedules the maintenance jobs configured in the jobs section
func registerJobs(s *jobs.Scheduler, cfg *config.Config, wallets jobs.TestWalletResetter, keys *repositories.APIKeyRepository, listings jobs.ListingInvalidator, users jobs.UserLookup, dispatcher jobs.MailDispatcher) error {
	if err := s.Register(cfg.Jobs.TestWalletResetSchedule, jobs.NewTestWalletResetJob(wallets)); err != nil {
		return err
	}
	if err := s.Register(cfg.Jobs.DailyQuotaResetSchedule, jobs.NewQuotaResetJob(keys, jobs.QuotaDaily, listings)); err != nil {
		return err
	}
	if err := s.Register(cfg.Jobs.MonthlyQuotaSchedule, jobs.NewQuotaResetJob(keys, jobs.QuotaMonthly, listings)); err != nil {
		return err
	}
	if cfg.Jobs.KeyExpiry.Enabled {
		notifier := jobs.NewAPIKeyExpiryNotifier(keys, users, dispatcher, cfg.Jobs.KeyExpiry.WarningDays, cfg.Server.GetPublicURL())
		if err := s.Register(cfg.Jobs.KeyExpiry.Schedule, notifier); err != nil {
			return err
		}
	}
	return nil
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy"
// @Router       /api/health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var one int
		if err := db.QueryRowContext(c.Request.Context(), "SELECT 1").Scan(&one); err != nil {
			slog.Error("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when configured, Redis.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Redis is optional, but once configured an unreachable server fails the probe.
func readinessHandler(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current service and API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		// Log the request
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", redactQuery(path, query)),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the global
	// handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}

// redactQuery hides query strings on auth routes, which carry verification tokens and OAuth codes
func redactQuery(path, query string) string {
	if query != "" && strings.HasPrefix(path, "/api/auth/") {
		return "[redacted]"
	}
	return query
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-API-Key")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
