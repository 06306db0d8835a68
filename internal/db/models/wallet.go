// Package models - wallet.go defines the prepaid credit wallet of an organization and the
// free test wallet every user receives.
package models

import "time"

const (
	// DefaultCurrency is the currency of every organization wallet
	DefaultCurrency = "EUR"
	// TestWalletCredits is the balance a test wallet starts with and is reset to
	TestWalletCredits = 100
)

// Wallet is the credit balance of one organization. Balance always equals
// TotalPurchased - TotalUsed; the database enforces this with a check constraint.
type Wallet struct {
	ID             string
	OrganizationID string
	Balance        int
	TotalPurchased int
	TotalUsed      int
	Currency       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TestWallet holds a user's free test credits
type TestWallet struct {
	ID        string
	UserID    string
	Balance   int
	ResetAt   time.Time
	CreatedAt time.Time
}
