package admin

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/services"
)

type fakeWallets struct {
	orgID string
}

func (f *fakeWallets) GetOrganizationWallet(_ context.Context, _, orgID string) (*services.WalletView, error) {
	if orgID == "foreign" {
		return nil, services.ErrNoAccess
	}
	f.orgID = orgID
	return &services.WalletView{ID: "wallet-1", OrganizationID: orgID, Balance: 1000, Currency: "credits"}, nil
}

func (f *fakeWallets) GetTestWallet(context.Context, string) (*services.TestWalletView, error) {
	reset := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	return &services.TestWalletView{Balance: 80, ResetAt: &reset}, nil
}

func (f *fakeWallets) GetCredits(context.Context, string) (*services.CreditsView, error) {
	return &services.CreditsView{TotalBalance: 1080, TestBalance: 80, OrgBalance: 1000}, nil
}

type fakeUsage struct {
	limit int
}

func (f *fakeUsage) List(_ context.Context, _, _ string, limit int) ([]services.UsageView, error) {
	f.limit = limit
	return nil, nil
}

type fakeCatalogue struct{}

func (fakeCatalogue) List(context.Context) ([]models.Service, error) {
	return []models.Service{{Name: "pdf", DisplayName: "PDF", BaseCostPerCall: 1, IsActive: true}}, nil
}

func newStatsRouter(wallets *fakeWallets, usage *fakeUsage) http.Handler {
	h := NewStatsHandlers(wallets, usage, fakeCatalogue{})
	r := newRouter()
	r.GET("/orgs/:orgId/wallet", h.GetWalletHandler())
	r.GET("/orgs/:orgId/usage", h.ListUsageHandler())
	r.GET("/me/test-wallet", h.GetTestWalletHandler())
	r.GET("/me/credits", h.GetCreditsHandler())
	r.GET("/services", h.ListServicesHandler())
	return r
}

func TestWalletHandlers(t *testing.T) {
	wallets := &fakeWallets{}
	r := newStatsRouter(wallets, &fakeUsage{})

	w := do(r, http.MethodGet, "/orgs/org-1/wallet", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var wallet services.WalletView
	decodeData(t, w, &wallet)
	assert.Equal(t, 1000, wallet.Balance)
	assert.Equal(t, "org-1", wallets.orgID)

	w = do(r, http.MethodGet, "/orgs/foreign/wallet", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/me/test-wallet", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"resetAt":"2026-11-01T00:00:00Z"`)

	w = do(r, http.MethodGet, "/me/credits", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var credits services.CreditsView
	decodeData(t, w, &credits)
	assert.Equal(t, 1080, credits.TotalBalance)
}

func TestListUsageHandler(t *testing.T) {
	usage := &fakeUsage{}
	r := newStatsRouter(&fakeWallets{}, usage)

	w := do(r, http.MethodGet, "/orgs/org-1/usage?limit=25", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 25, usage.limit)
	assert.JSONEq(t, `{"success":true,"data":[]}`, w.Body.String())

	do(r, http.MethodGet, "/orgs/org-1/usage?limit=many", nil)
	assert.Equal(t, 0, usage.limit)
}

func TestListServicesHandler(t *testing.T) {
	w := do(newStatsRouter(&fakeWallets{}, &fakeUsage{}), http.MethodGet, "/services", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pdf"`)
}
