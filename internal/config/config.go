// Package config loads and validates the key provider configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the AKP_ prefix (e.g., AKP_DATABASE_HOST
// overrides database.host in the YAML).
//
// A handful of secrets are also read from unprefixed names (API_KEY_PEPPER,
// STRIPE_SECRET_KEY, STRIPE_WEBHOOK_SECRET, CRON_SECRET, DATABASE_URL, REDIS_URL,
// QSTASH_TOKEN) because they are injected by hosting platforms and secret stores
// that do not know the application prefix.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	googleIssuerURL = "https://accounts.google.com"
)

// Config holds all application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Stripe      StripeConfig    `mapstructure:"stripe"`
	Email       EmailConfig     `mapstructure:"email"`
	Security    SecurityConfig  `mapstructure:"security"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Audit       AuditConfig     `mapstructure:"audit"`
	Jobs        JobsConfig      `mapstructure:"jobs"`
}

// IsProduction reports whether the service runs with production safeguards
func (c *Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetPublicURL returns the public-facing URL used in emails, OAuth callbacks and Stripe
// redirects. Falls back to server.base_url when server.public_url is not set.
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return strings.TrimRight(s.PublicURL, "/")
	}
	return strings.TrimRight(s.BaseURL, "/")
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	// URL is a full connection string; when set it takes precedence over the discrete fields
	URL                string `mapstructure:"url"`
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the connection used for rate limiting and the key listing cache.
// Leaving both URL and Addr empty disables Redis; limiters then fail open.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis server is configured
func (r *RedisConfig) Enabled() bool {
	return r.URL != "" || r.Addr != ""
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	APIKeys APIKeyConfig  `mapstructure:"api_keys"`
	Session SessionConfig `mapstructure:"session"`
	OIDC    OIDCConfig    `mapstructure:"oidc"`
	Google  GoogleConfig  `mapstructure:"google"`
	// RequireEmailVerification blocks password sign-in until the address is verified
	RequireEmailVerification bool `mapstructure:"require_email_verification"`
}

// APIKeyConfig holds API key hashing and listing settings
type APIKeyConfig struct {
	// Pepper is appended to every key before hashing; it is never stored with the hash
	Pepper string `mapstructure:"pepper"`
	// ListingCacheTTL bounds how long an organisation's key listing stays cached
	ListingCacheTTL time.Duration `mapstructure:"listing_cache_ttl"`
}

// SessionConfig holds dashboard session token settings
type SessionConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// OIDCConfig lists the OpenID Connect providers offered for sign-in
type OIDCConfig struct {
	Providers []OIDCProviderConfig `mapstructure:"providers"`
}

// OIDCProviderConfig holds one OpenID Connect provider
type OIDCProviderConfig struct {
	Name         string   `mapstructure:"name"`
	IssuerURL    string   `mapstructure:"issuer_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// GoogleConfig is a shortcut for the Google provider, settable from flat environment variables
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// StripeConfig holds payment provider settings
type StripeConfig struct {
	SecretKey        string             `mapstructure:"secret_key"`
	WebhookSecret    string             `mapstructure:"webhook_secret"`
	WebhookTolerance time.Duration      `mapstructure:"webhook_tolerance"`
	Prices           StripePricesConfig `mapstructure:"prices"`
	// SuccessPath and CancelPath are appended to the public URL
	SuccessPath string `mapstructure:"success_path"`
	CancelPath  string `mapstructure:"cancel_path"`
}

// StripePricesConfig maps each credit pack to its Stripe price id
type StripePricesConfig struct {
	Developer string `mapstructure:"developer"`
	Startup   string `mapstructure:"startup"`
	Scale     string `mapstructure:"scale"`
}

// EmailConfig holds outbound email settings
type EmailConfig struct {
	From           string            `mapstructure:"from"`
	SupportAddress string            `mapstructure:"support_address"`
	SMTP           SMTPConfig        `mapstructure:"smtp"`
	Queue          QueueConfig       `mapstructure:"queue"`
	Limits         EmailLimitsConfig `mapstructure:"limits"`
	// CronSecret authenticates calls to the send-email job endpoint
	CronSecret string `mapstructure:"cron_secret"`
}

// SMTPConfig holds outbound mail server configuration
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// UseTLS enables implicit TLS (port 465); STARTTLS is negotiated automatically otherwise
	UseTLS bool `mapstructure:"use_tls"`
}

// Configured reports whether an SMTP host is set
func (s *SMTPConfig) Configured() bool {
	return s.Host != ""
}

// QueueConfig holds the HTTP message queue used to defer email delivery.
// Without a token, mail is sent synchronously.
type QueueConfig struct {
	Token      string        `mapstructure:"token"`
	PublishURL string        `mapstructure:"publish_url"`
	Retries    int           `mapstructure:"retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// EmailLimitsConfig caps verification mail volume
type EmailLimitsConfig struct {
	PerUser int           `mapstructure:"per_user"`
	Global  int           `mapstructure:"global"`
	Window  time.Duration `mapstructure:"window"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS          CORSConfig          `mapstructure:"cors"`
	RateLimiting  RateLimitingConfig  `mapstructure:"rate_limiting"`
	AuthRateLimit AuthRateLimitConfig `mapstructure:"auth_rate_limit"`
	APIKeyLimit   APIKeyLimitConfig   `mapstructure:"api_key_limit"`
	TLS           TLSConfig           `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds the in-process request limiter configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// AuthRateLimitConfig holds the sliding window applied to sign-in and sign-up routes
type AuthRateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// APIKeyLimitConfig holds the per-key request rate for gateway routes
type APIKeyLimitConfig struct {
	PerSecond int `mapstructure:"per_second"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	// Enabled determines if audit logging is active
	Enabled bool `mapstructure:"enabled"`
	// LogReadOperations determines if GET requests should be logged
	LogReadOperations bool `mapstructure:"log_read_operations"`
	// Webhook and File ship a copy of every stored entry to an external sink
	Webhook AuditWebhookConfig `mapstructure:"webhook"`
	File    AuditFileConfig    `mapstructure:"file"`
}

// AuditWebhookConfig posts audit entries as JSON to a SIEM or log collector
type AuditWebhookConfig struct {
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// AuditFileConfig appends audit entries as JSON lines to a local file
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// JobsConfig holds cron schedules for background jobs (robfig/cron syntax)
type JobsConfig struct {
	Enabled                 bool                    `mapstructure:"enabled"`
	TestWalletResetSchedule string                  `mapstructure:"test_wallet_reset_schedule"`
	DailyQuotaResetSchedule string                  `mapstructure:"daily_quota_reset_schedule"`
	MonthlyQuotaSchedule    string                  `mapstructure:"monthly_quota_reset_schedule"`
	KeyExpiry               KeyExpiryNotifierConfig `mapstructure:"key_expiry"`
}

// KeyExpiryNotifierConfig holds the API key expiry warning job settings
type KeyExpiryNotifierConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Schedule    string `mapstructure:"schedule"`
	WarningDays int    `mapstructure:"warning_days"`
}

// envAliases lists unprefixed variable names accepted for a config key in addition to the
// AKP_ form.
var envAliases = map[string]string{
	"database.url":              "DATABASE_URL",
	"redis.url":                 "REDIS_URL",
	"auth.api_keys.pepper":      "API_KEY_PEPPER",
	"auth.google.client_id":     "GOOGLE_CLIENT_ID",
	"auth.google.client_secret": "GOOGLE_CLIENT_SECRET",
	"stripe.secret_key":         "STRIPE_SECRET_KEY",
	"stripe.webhook_secret":     "STRIPE_WEBHOOK_SECRET",
	"stripe.prices.developer":   "STRIPE_PRICE_DEVELOPER_PACK",
	"stripe.prices.startup":     "STRIPE_PRICE_STARTUP_PACK",
	"stripe.prices.scale":       "STRIPE_PRICE_SCALE_PACK",
	"email.cron_secret":         "CRON_SECRET",
	"email.queue.token":         "QSTASH_TOKEN",
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"environment",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.public_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.url",
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Redis
		"redis.url",
		"redis.addr",
		"redis.password",
		"redis.db",

		// Auth
		"auth.api_keys.pepper",
		"auth.api_keys.listing_cache_ttl",
		"auth.session.secret",
		"auth.session.ttl",
		"auth.google.client_id",
		"auth.google.client_secret",
		"auth.require_email_verification",

		// Stripe
		"stripe.secret_key",
		"stripe.webhook_secret",
		"stripe.webhook_tolerance",
		"stripe.prices.developer",
		"stripe.prices.startup",
		"stripe.prices.scale",
		"stripe.success_path",
		"stripe.cancel_path",

		// Email
		"email.from",
		"email.support_address",
		"email.cron_secret",
		"email.smtp.host",
		"email.smtp.port",
		"email.smtp.username",
		"email.smtp.password",
		"email.smtp.use_tls",
		"email.queue.token",
		"email.queue.publish_url",
		"email.queue.retries",
		"email.queue.timeout",
		"email.limits.per_user",
		"email.limits.global",
		"email.limits.window",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.auth_rate_limit.enabled",
		"security.auth_rate_limit.requests",
		"security.auth_rate_limit.window",
		"security.api_key_limit.per_second",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",

		// Audit
		"audit.enabled",
		"audit.log_read_operations",
		"audit.webhook.url",
		"audit.webhook.token",
		"audit.webhook.timeout",
		"audit.webhook.batch_size",
		"audit.webhook.flush_interval",
		"audit.file.path",
		"audit.file.max_size_mb",
		"audit.file.max_backups",

		// Jobs
		"jobs.enabled",
		"jobs.test_wallet_reset_schedule",
		"jobs.daily_quota_reset_schedule",
		"jobs.monthly_quota_reset_schedule",
		"jobs.key_expiry.enabled",
		"jobs.key_expiry.schedule",
		"jobs.key_expiry.warning_days",
	}
	for _, key := range keys {
		names := []string{key, "AKP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		if alias, ok := envAliases[key]; ok {
			names = append(names, alias)
		}
		if err := v.BindEnv(names...); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/api-key-provider")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("AKP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Auth.APIKeys.Pepper = expandEnv(cfg.Auth.APIKeys.Pepper)
	cfg.Auth.Session.Secret = expandEnv(cfg.Auth.Session.Secret)
	cfg.Stripe.SecretKey = expandEnv(cfg.Stripe.SecretKey)
	cfg.Stripe.WebhookSecret = expandEnv(cfg.Stripe.WebhookSecret)
	cfg.Email.SMTP.Password = expandEnv(cfg.Email.SMTP.Password)
	cfg.Email.CronSecret = expandEnv(cfg.Email.CronSecret)
	cfg.Audit.Webhook.Token = expandEnv(cfg.Audit.Webhook.Token)
	for i := range cfg.Auth.OIDC.Providers {
		cfg.Auth.OIDC.Providers[i].ClientSecret = expandEnv(cfg.Auth.OIDC.Providers[i].ClientSecret)
	}

	cfg.applyGoogleProvider()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyGoogleProvider turns the flat Google settings into an OIDC provider entry
func (c *Config) applyGoogleProvider() {
	if c.Auth.Google.ClientID == "" {
		return
	}
	for _, p := range c.Auth.OIDC.Providers {
		if p.Name == "google" {
			return
		}
	}
	c.Auth.OIDC.Providers = append(c.Auth.OIDC.Providers, OIDCProviderConfig{
		Name:         "google",
		IssuerURL:    googleIssuerURL,
		ClientID:     c.Auth.Google.ClientID,
		ClientSecret: c.Auth.Google.ClientSecret,
		RedirectURL:  c.Server.GetPublicURL() + "/api/auth/oauth/google/callback",
	})
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvironmentDevelopment)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "api_key_provider")
	v.SetDefault("database.user", "provider")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.api_keys.listing_cache_ttl", "5m")
	v.SetDefault("auth.session.ttl", "24h")
	v.SetDefault("auth.require_email_verification", true)

	// Stripe defaults
	v.SetDefault("stripe.webhook_tolerance", "5m")
	v.SetDefault("stripe.success_path", "/keys?success=true")
	v.SetDefault("stripe.cancel_path", "/?canceled=true")

	// Email defaults
	v.SetDefault("email.from", "onboarding@localhost")
	v.SetDefault("email.support_address", "support@localhost")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", false)
	v.SetDefault("email.queue.publish_url", "https://qstash.upstash.io/v2/publish/")
	v.SetDefault("email.queue.retries", 3)
	v.SetDefault("email.queue.timeout", "10s")
	v.SetDefault("email.limits.per_user", 3)
	v.SetDefault("email.limits.global", 80)
	v.SetDefault("email.limits.window", "24h")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 20)
	v.SetDefault("security.auth_rate_limit.enabled", true)
	v.SetDefault("security.auth_rate_limit.requests", 10)
	v.SetDefault("security.auth_rate_limit.window", "15m")
	v.SetDefault("security.api_key_limit.per_second", 10)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "api-key-provider")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_read_operations", false)
	v.SetDefault("audit.webhook.timeout", "10s")
	v.SetDefault("audit.webhook.batch_size", 0)
	v.SetDefault("audit.webhook.flush_interval", "5s")
	v.SetDefault("audit.file.max_size_mb", 100)
	v.SetDefault("audit.file.max_backups", 5)

	// Jobs defaults
	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.test_wallet_reset_schedule", "@hourly")
	v.SetDefault("jobs.daily_quota_reset_schedule", "0 0 * * *")
	v.SetDefault("jobs.monthly_quota_reset_schedule", "0 0 1 * *")
	v.SetDefault("jobs.key_expiry.enabled", true)
	v.SetDefault("jobs.key_expiry.schedule", "0 8 * * *")
	v.SetDefault("jobs.key_expiry.warning_days", 7)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Environment != EnvironmentDevelopment && c.Environment != EnvironmentProduction {
		return fmt.Errorf("invalid environment: %s (must be development or production)", c.Environment)
	}

	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate database
	if c.Database.URL == "" {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
	}

	// The pepper is part of every stored key digest; running without it is never acceptable
	if c.Auth.APIKeys.Pepper == "" {
		return fmt.Errorf("auth.api_keys.pepper (API_KEY_PEPPER) is required")
	}

	if c.IsProduction() {
		if c.Auth.Session.Secret == "" {
			return fmt.Errorf("auth.session.secret is required in production")
		}
		if c.Email.CronSecret == "" {
			return fmt.Errorf("email.cron_secret (CRON_SECRET) is required in production")
		}
	}

	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("stripe.webhook_secret is required when stripe.secret_key is set")
	}

	for _, p := range c.Auth.OIDC.Providers {
		if p.Name == "" || p.IssuerURL == "" || p.ClientID == "" || p.ClientSecret == "" {
			return fmt.Errorf("auth.oidc.providers entries need name, issuer_url, client_id and client_secret")
		}
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	if c.Security.AuthRateLimit.Enabled && (c.Security.AuthRateLimit.Requests < 1 || c.Security.AuthRateLimit.Window <= 0) {
		return fmt.Errorf("security.auth_rate_limit needs positive requests and window")
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
