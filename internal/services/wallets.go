package services

import (
	"context"
	"time"

	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/db/models"
)

// WalletStore reads organization and test wallets
type WalletStore interface {
	GetWallet(ctx context.Context, orgID string) (*models.Wallet, error)
	GetOrCreateWallet(ctx context.Context, orgID string) (*models.Wallet, error)
	GetTestWallet(ctx context.Context, userID string) (*models.TestWallet, error)
}

// FirstMembershipReader returns a user's oldest membership
type FirstMembershipReader interface {
	GetFirstMembership(ctx context.Context, userID string) (*models.UserMembership, error)
}

// WalletView is the API representation of an organization wallet
type WalletView struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Balance        int       `json:"balance"`
	TotalPurchased int       `json:"totalPurchased"`
	TotalUsed      int       `json:"totalUsed"`
	Currency       string    `json:"currency"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TestWalletView is a user's trial balance. ResetAt is nil for a user without a stored test wallet.
type TestWalletView struct {
	Balance int        `json:"balance"`
	ResetAt *time.Time `json:"resetAt"`
}

// CreditsView combines the test wallet with the wallet of the user's first organization
type CreditsView struct {
	TotalBalance int        `json:"totalBalance"`
	TestBalance  int        `json:"testBalance"`
	OrgBalance   int        `json:"orgBalance"`
	ResetAt      *time.Time `json:"resetAt"`
}

func newWalletView(w *models.Wallet) *WalletView {
	return &WalletView{
		ID:             w.ID,
		OrganizationID: w.OrganizationID,
		Balance:        w.Balance,
		TotalPurchased: w.TotalPurchased,
		TotalUsed:      w.TotalUsed,
		Currency:       w.Currency,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
}

// WalletService serves wallet balances. Wallets are only credited by the billing processor.
type WalletService struct {
	wallets     WalletStore
	memberships FirstMembershipReader
	gate        *PermissionGate
}

// NewWalletService creates a WalletService
func NewWalletService(wallets WalletStore, memberships FirstMembershipReader, gate *PermissionGate) *WalletService {
	return &WalletService{wallets: wallets, memberships: memberships, gate: gate}
}

// GetOrganizationWallet returns an organization's wallet, creating an empty one on first read
func (s *WalletService) GetOrganizationWallet(ctx context.Context, userID, orgID string) (*WalletView, error) {
	if _, err := s.gate.Authorize(ctx, userID, orgID, auth.AnyMemberRole); err != nil {
		return nil, err
	}
	w, err := s.wallets.GetOrCreateWallet(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return newWalletView(w), nil
}

// GetTestWallet returns the caller's trial balance
func (s *WalletService) GetTestWallet(ctx context.Context, userID string) (*TestWalletView, error) {
	tw, err := s.wallets.GetTestWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if tw == nil {
		return &TestWalletView{Balance: models.TestWalletCredits}, nil
	}
	resetAt := tw.ResetAt
	return &TestWalletView{Balance: tw.Balance, ResetAt: &resetAt}, nil
}

// GetCredits returns the caller's combined credits
func (s *WalletService) GetCredits(ctx context.Context, userID string) (*CreditsView, error) {
	test, err := s.GetTestWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	orgBalance := 0
	membership, err := s.memberships.GetFirstMembership(ctx, userID)
	if err != nil {
		return nil, err
	}
	if membership != nil {
		w, err := s.wallets.GetWallet(ctx, membership.OrganizationID)
		if err != nil {
			return nil, err
		}
		if w != nil {
			orgBalance = w.Balance
		}
	}

	return &CreditsView{
		TotalBalance: test.Balance + orgBalance,
		TestBalance:  test.Balance,
		OrgBalance:   orgBalance,
		ResetAt:      test.ResetAt,
	}, nil
}
