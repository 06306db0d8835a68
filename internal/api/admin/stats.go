// stats.go implements handlers for wallet balances, trial credits, usage history and the
// services catalogue.
package admin

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/api/respond"
	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/middleware"
	"github.com/rnblock/api-key-provider/internal/services"
)

// Wallets reads organization and test wallet balances
type Wallets interface {
	GetOrganizationWallet(ctx context.Context, userID, orgID string) (*services.WalletView, error)
	GetTestWallet(ctx context.Context, userID string) (*services.TestWalletView, error)
	GetCredits(ctx context.Context, userID string) (*services.CreditsView, error)
}

// UsageHistory lists metered calls
type UsageHistory interface {
	List(ctx context.Context, userID, orgID string, limit int) ([]services.UsageView, error)
}

// Catalogue lists the active metered services
type Catalogue interface {
	List(ctx context.Context) ([]models.Service, error)
}

// StatsHandlers handles balance, usage and catalogue endpoints
type StatsHandlers struct {
	wallets   Wallets
	usage     UsageHistory
	catalogue Catalogue
}

// NewStatsHandlers creates a new StatsHandlers instance
func NewStatsHandlers(wallets Wallets, usage UsageHistory, catalogue Catalogue) *StatsHandlers {
	return &StatsHandlers{wallets: wallets, usage: usage, catalogue: catalogue}
}

// @Summary      Organisation wallet
// @Description  Get the organisation's purchased credit balance. Any member may read it.
// @Tags         Billing
// @Security     Bearer
// @Produce      json
// @Param        orgId  path  string  true  "Organisation ID"
// @Success      200  {object}  services.WalletView
// @Failure      403  {object}  map[string]interface{}  "No access"
// @Router       /api/v1/orgs/{orgId}/wallet [get]
// GetWalletHandler returns an organization wallet
// GET /api/v1/orgs/:orgId/wallet
func (h *StatsHandlers) GetWalletHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)

		wallet, err := h.wallets.GetOrganizationWallet(c.Request.Context(), userID, c.Param("orgId"))
		if err != nil {
			respond.Error(c, "get wallet", err)
			return
		}

		respond.OK(c, wallet)
	}
}

// @Summary      Test wallet
// @Description  Get the caller's monthly trial credits and the next reset time.
// @Tags         Billing
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  services.TestWalletView
// @Router       /api/v1/me/test-wallet [get]
// GetTestWalletHandler returns the caller's test wallet
// GET /api/v1/me/test-wallet
func (h *StatsHandlers) GetTestWalletHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)

		wallet, err := h.wallets.GetTestWallet(c.Request.Context(), userID)
		if err != nil {
			respond.Error(c, "get test wallet", err)
			return
		}

		respond.OK(c, wallet)
	}
}

// @Summary      Credit summary
// @Description  Combine the caller's trial credits with the balance of their first organisation.
// @Tags         Billing
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  services.CreditsView
// @Router       /api/v1/me/credits [get]
// GetCreditsHandler returns the caller's combined balance
// GET /api/v1/me/credits
func (h *StatsHandlers) GetCreditsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)

		credits, err := h.wallets.GetCredits(c.Request.Context(), userID)
		if err != nil {
			respond.Error(c, "get credits", err)
			return
		}

		respond.OK(c, credits)
	}
}

// @Summary      Usage history
// @Description  List the organisation's metered calls, newest first.
// @Tags         Usage
// @Security     Bearer
// @Produce      json
// @Param        orgId  path   string  true   "Organisation ID"
// @Param        limit  query  int     false  "Rows to return, 1-500 (default 100)"
// @Success      200  {object}  map[string]interface{}  "[]services.UsageView"
// @Failure      403  {object}  map[string]interface{}  "No access"
// @Router       /api/v1/orgs/{orgId}/usage [get]
// ListUsageHandler lists usage logs
// GET /api/v1/orgs/:orgId/usage?limit=100
func (h *StatsHandlers) ListUsageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)

		logs, err := h.usage.List(c.Request.Context(), userID, c.Param("orgId"), queryLimit(c, "limit"))
		if err != nil {
			respond.Error(c, "list usage", err)
			return
		}
		if logs == nil {
			logs = []services.UsageView{}
		}

		respond.OK(c, logs)
	}
}

// @Summary      Services catalogue
// @Description  List the active metered services with their per-call price.
// @Tags         Services
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "[]models.Service"
// @Router       /api/v1/services [get]
// ListServicesHandler lists the catalogue
// GET /api/v1/services
func (h *StatsHandlers) ListServicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.catalogue.List(c.Request.Context())
		if err != nil {
			respond.Error(c, "list services", err)
			return
		}
		if list == nil {
			list = []models.Service{}
		}

		respond.OK(c, list)
	}
}
