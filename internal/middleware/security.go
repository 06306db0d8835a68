// security.go provides Gin middleware that adds protective HTTP response headers to every JSON
// response of the API.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/config"
)

// SecurityHeadersConfig holds configuration for security headers
type SecurityHeadersConfig struct {
	// EnableHSTS enables HTTP Strict Transport Security
	EnableHSTS bool
	// HSTSMaxAge is the max-age value for HSTS in seconds
	HSTSMaxAge int
	// HSTSIncludeSubdomains includes subdomains in HSTS
	HSTSIncludeSubdomains bool
	// FrameOptionsValue is the value for X-Frame-Options; empty omits the header
	FrameOptionsValue string
	// ContentSecurityPolicy is the CSP header value
	ContentSecurityPolicy string
	// ReferrerPolicy is the Referrer-Policy header value
	ReferrerPolicy string
	// CrossOriginResourcePolicy is the Cross-Origin-Resource-Policy value
	CrossOriginResourcePolicy string
}

// APISecurityHeadersConfig returns headers for JSON endpoints. HSTS is sent only when the
// service is reachable over HTTPS: in production or with TLS enabled.
func APISecurityHeadersConfig(cfg *config.Config) SecurityHeadersConfig {
	https := cfg != nil && (cfg.IsProduction() || cfg.Security.TLS.Enabled)
	return SecurityHeadersConfig{
		EnableHSTS:            https,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
		FrameOptionsValue:     "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
		// the dashboard is served from another origin and reads these responses via CORS
		CrossOriginResourcePolicy: "cross-origin",
	}
}

// SecurityHeadersMiddleware adds security headers to all responses
func SecurityHeadersMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	hsts := ""
	if config.EnableHSTS {
		hsts = "max-age=" + strconv.Itoa(config.HSTSMaxAge)
		if config.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}

	return func(c *gin.Context) {
		if hsts != "" {
			c.Header("Strict-Transport-Security", hsts)
		}
		if config.FrameOptionsValue != "" {
			c.Header("X-Frame-Options", config.FrameOptionsValue)
		}
		c.Header("X-Content-Type-Options", "nosniff")
		if config.ContentSecurityPolicy != "" {
			c.Header("Content-Security-Policy", config.ContentSecurityPolicy)
		}
		if config.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", config.ReferrerPolicy)
		}
		if config.CrossOriginResourcePolicy != "" {
			c.Header("Cross-Origin-Resource-Policy", config.CrossOriginResourcePolicy)
		}
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}
