// auth.go implements HTTP handlers for email/password accounts, the session probe and the OIDC
// login flow. Sessions are signed JWTs returned in the response body and mirrored into an
// HttpOnly cookie.
package admin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/api/respond"
	"github.com/rnblock/api-key-provider/internal/auth/oidc"
	"github.com/rnblock/api-key-provider/internal/config"
	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/middleware"
	"github.com/rnblock/api-key-provider/internal/services"
	"github.com/rnblock/api-key-provider/internal/validation"
)

const (
	oauthStateCookie = "akp_oauth_state"
	oauthStateTTL    = 10 * time.Minute
)

// Accounts is the account API used by the handlers
type Accounts interface {
	SignUp(ctx context.Context, email, password, name string) (*services.SignUpResult, error)
	SignIn(ctx context.Context, email, password string) (*services.Session, error)
	VerifyEmail(ctx context.Context, token string) (*models.User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	SignInWithOIDC(ctx context.Context, id *oidc.Identity) (*services.Session, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// OAuthProvider is one configured sign-in provider
type OAuthProvider interface {
	AuthURL(state string) string
	Authenticate(ctx context.Context, code string) (*oidc.Identity, error)
}

// OAuthProviders resolves a provider by its configured name
type OAuthProviders interface {
	Provider(name string) (OAuthProvider, error)
}

type registryProviders struct {
	registry *oidc.Registry
}

func (r registryProviders) Provider(name string) (OAuthProvider, error) {
	if r.registry == nil {
		return nil, oidc.ErrUnknownProvider
	}
	p, err := r.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ProvidersFromRegistry adapts an OIDC registry, which may be nil when no provider is configured
func ProvidersFromRegistry(registry *oidc.Registry) OAuthProviders {
	return registryProviders{registry: registry}
}

// AuthHandlers handles authentication-related endpoints
type AuthHandlers struct {
	accounts     Accounts
	providers    OAuthProviders
	publicURL    string
	secureCookie bool
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(cfg *config.Config, accounts Accounts, providers OAuthProviders) *AuthHandlers {
	return &AuthHandlers{
		accounts:     accounts,
		providers:    providers,
		publicURL:    cfg.Server.GetPublicURL(),
		secureCookie: cfg.IsProduction() || cfg.Security.TLS.Enabled,
	}
}

// userView is the API representation of an account
type userView struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	EmailVerified bool      `json:"emailVerified"`
	Image         *string   `json:"image"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newUserView(u *models.User) *userView {
	if u == nil {
		return nil
	}
	return &userView{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
		Image:         u.Image,
		CreatedAt:     u.CreatedAt,
	}
}

// sessionView is returned by the sign-in endpoints
type sessionView struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *userView `json:"user"`
}

// SignUpRequest represents an email/password registration
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"omitempty,max=100"`
}

// SignInRequest represents an email/password sign-in
type SignInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// ForgetPasswordRequest asks for a reset link
type ForgetPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ResetPasswordRequest sets a new password with a reset token
type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

func (h *AuthHandlers) setSessionCookie(c *gin.Context, s *services.Session) {
	maxAge := int(time.Until(s.ExpiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, s.Token, maxAge, "/", "", h.secureCookie, true)
}

// @Summary      Sign up
// @Description  Create an email/password account and a personal workspace. A verification link is emailed; a session is returned unless verification is required first.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  SignUpRequest  true  "Account details"
// @Success      201  {object}  map[string]interface{}  "user, verificationSent, optional session"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      409  {object}  map[string]interface{}  "Email already registered"
// @Router       /api/auth/sign-up/email [post]
// SignUpHandler registers a password account
// POST /api/auth/sign-up/email
func (h *AuthHandlers) SignUpHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SignUpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, "sign up", validation.FromBindError(err))
			return
		}

		result, err := h.accounts.SignUp(c.Request.Context(), req.Email, req.Password, req.Name)
		if err != nil {
			respond.Error(c, "sign up", err)
			return
		}

		body := gin.H{
			"user":             newUserView(result.User),
			"verificationSent": result.VerificationSent,
		}
		if result.Session != nil {
			h.setSessionCookie(c, result.Session)
			body["token"] = result.Session.Token
			body["expiresAt"] = result.Session.ExpiresAt
		}
		respond.Created(c, body)
	}
}

// @Summary      Sign in
// @Description  Check an email and password and issue a session.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  SignInRequest  true  "Credentials"
// @Success      200  {object}  sessionView
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Failure      403  {object}  map[string]interface{}  "Email not verified"
// @Router       /api/auth/sign-in/email [post]
// SignInHandler signs in with a password
// POST /api/auth/sign-in/email
func (h *AuthHandlers) SignInHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SignInRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, "sign in", validation.FromBindError(err))
			return
		}

		session, err := h.accounts.SignIn(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			respond.Error(c, "sign in", err)
			return
		}

		h.setSessionCookie(c, session)
		respond.OK(c, sessionView{Token: session.Token, ExpiresAt: session.ExpiresAt, User: newUserView(session.User)})
	}
}

// @Summary      Sign out
// @Description  Clear the session cookie. Bearer tokens expire on their own.
// @Tags         Authentication
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/auth/sign-out [post]
// SignOutHandler clears the session cookie
// POST /api/auth/sign-out
func (h *AuthHandlers) SignOutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(middleware.SessionCookieName, "", -1, "/", "", h.secureCookie, true)
		respond.OK(c, gin.H{"signedOut": true})
	}
}

// @Summary      Current session
// @Description  Return the signed-in user, or null when there is no valid session.
// @Tags         Authentication
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "user or null"
// @Router       /api/auth/session [get]
// GetSessionHandler reports the current user
// GET /api/auth/session
func (h *AuthHandlers) GetSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			respond.OK(c, nil)
			return
		}

		user, err := h.accounts.GetUser(c.Request.Context(), userID)
		if errors.Is(err, services.ErrUnauthenticated) {
			respond.OK(c, nil)
			return
		}
		if err != nil {
			respond.Error(c, "get session", err)
			return
		}

		respond.OK(c, gin.H{"user": newUserView(user)})
	}
}

// @Summary      Verify email
// @Description  Consume an emailed verification token.
// @Tags         Authentication
// @Produce      json
// @Param        token  query  string  true  "Verification token"
// @Success      200  {object}  map[string]interface{}  "Verified user"
// @Failure      400  {object}  map[string]interface{}  "Invalid or expired token"
// @Router       /api/auth/verify-email [get]
// VerifyEmailHandler marks an address verified
// GET /api/auth/verify-email?token=
func (h *AuthHandlers) VerifyEmailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			respond.Error(c, "verify email", services.ErrInvalidToken)
			return
		}

		user, err := h.accounts.VerifyEmail(c.Request.Context(), token)
		if err != nil {
			respond.Error(c, "verify email", err)
			return
		}

		respond.OK(c, gin.H{"user": newUserView(user)})
	}
}

// @Summary      Request password reset
// @Description  Email a reset link. The response is the same whether or not the address has an account.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  ForgetPasswordRequest  true  "Email address"
// @Success      200  {object}  map[string]interface{}
// @Failure      429  {object}  map[string]interface{}  "Too many emails"
// @Router       /api/auth/forget-password [post]
// ForgetPasswordHandler sends a reset link
// POST /api/auth/forget-password
func (h *AuthHandlers) ForgetPasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ForgetPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, "forget password", validation.FromBindError(err))
			return
		}

		if err := h.accounts.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
			respond.Error(c, "forget password", err)
			return
		}

		respond.OK(c, gin.H{"message": "If an account exists for this email, a reset link has been sent"})
	}
}

// @Summary      Reset password
// @Description  Replace the password using an emailed reset token.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  ResetPasswordRequest  true  "Token and new password"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}  "Invalid token or password"
// @Router       /api/auth/reset-password [post]
// ResetPasswordHandler sets a new password
// POST /api/auth/reset-password
func (h *AuthHandlers) ResetPasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResetPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, "reset password", validation.FromBindError(err))
			return
		}

		if err := h.accounts.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
			respond.Error(c, "reset password", err)
			return
		}

		respond.OK(c, gin.H{"reset": true})
	}
}

// generateState generates a random state string for OAuth
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// @Summary      Initiate OAuth login
// @Description  Redirect to the named OpenID Connect provider. The state is kept in a short-lived cookie.
// @Tags         Authentication
// @Param        provider  path  string  true  "Configured provider name, e.g. google"
// @Success      302  {object}  string  "Redirects to the provider authorization URL"
// @Failure      404  {object}  map[string]interface{}  "Unknown provider"
// @Router       /api/auth/oauth/{provider}/login [get]
// OAuthLoginHandler starts the OIDC flow
// GET /api/auth/oauth/:provider/login
func (h *AuthHandlers) OAuthLoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		provider, err := h.providers.Provider(c.Param("provider"))
		if err != nil {
			respond.Fail(c, http.StatusNotFound, "Unknown sign-in provider")
			return
		}

		state, err := generateState()
		if err != nil {
			respond.Error(c, "generate oauth state", err)
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(oauthStateCookie, state, int(oauthStateTTL.Seconds()), "/api/auth/oauth", "", h.secureCookie, true)
		c.Redirect(http.StatusFound, provider.AuthURL(state))
	}
}

// @Summary      OAuth callback
// @Description  Complete the OIDC flow and redirect to the dashboard with the session token, or with error parameters on failure.
// @Tags         Authentication
// @Param        provider  path   string  true  "Configured provider name"
// @Param        code      query  string  true  "Authorization code"
// @Param        state     query  string  true  "State from the login redirect"
// @Success      302  {object}  string  "Redirects to /auth/callback"
// @Router       /api/auth/oauth/{provider}/callback [get]
// OAuthCallbackHandler finishes the OIDC flow
// GET /api/auth/oauth/:provider/callback
func (h *AuthHandlers) OAuthCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("provider")

		expected, _ := c.Cookie(oauthStateCookie)
		c.SetCookie(oauthStateCookie, "", -1, "/api/auth/oauth", "", h.secureCookie, true)

		if e := c.Query("error"); e != "" {
			h.redirectError(c, e, c.Query("error_description"))
			return
		}
		if expected == "" || c.Query("state") != expected {
			h.redirectError(c, "invalid_state", "Sign-in session expired, please try again")
			return
		}

		provider, err := h.providers.Provider(name)
		if err != nil {
			h.redirectError(c, "unknown_provider", "Unknown sign-in provider")
			return
		}

		identity, err := provider.Authenticate(c.Request.Context(), c.Query("code"))
		if err != nil {
			slog.Warn("oidc authentication failed", "provider", name, "error", err)
			h.redirectError(c, "authentication_failed", "Could not verify your identity")
			return
		}

		session, err := h.accounts.SignInWithOIDC(c.Request.Context(), identity)
		if err != nil {
			slog.Warn("oidc sign-in rejected", "provider", name, "error", err)
			h.redirectError(c, "sign_in_failed", "Could not sign in with this account")
			return
		}

		h.setSessionCookie(c, session)
		c.Redirect(http.StatusFound, h.publicURL+"/auth/callback?token="+url.QueryEscape(session.Token))
	}
}

func (h *AuthHandlers) redirectError(c *gin.Context, code, description string) {
	q := url.Values{}
	q.Set("error", code)
	q.Set("error_description", description)
	c.Redirect(http.StatusFound, h.publicURL+"/auth/callback?"+q.Encode())
}
