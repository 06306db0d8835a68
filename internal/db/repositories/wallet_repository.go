// wallet_repository.go implements WalletRepository for organization credit wallets and per-user
// test wallets. Wallet creation is race-free: concurrent first reads insert with
// ON CONFLICT DO NOTHING and then read back the single surviving row.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rnblock/api-key-provider/internal/db/models"
)

// WalletRepository handles wallet and test wallet database operations
type WalletRepository struct {
	db *sql.DB
}

// NewWalletRepository creates a new WalletRepository
func NewWalletRepository(db *sql.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

const walletColumns = `id, organization_id, balance, total_purchased, total_used, currency, created_at, updated_at`

func scanWallet(row rowScanner) (*models.Wallet, error) {
	w := &models.Wallet{}
	err := row.Scan(
		&w.ID,
		&w.OrganizationID,
		&w.Balance,
		&w.TotalPurchased,
		&w.TotalUsed,
		&w.Currency,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// GetWallet returns an organization's wallet, or nil when it has none yet
func (r *WalletRepository) GetWallet(ctx context.Context, orgID string) (*models.Wallet, error) {
	w, err := scanWallet(r.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE organization_id = $1`, orgID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// GetOrCreateWallet returns an organization's wallet, creating an empty one on first access
func (r *WalletRepository) GetOrCreateWallet(ctx context.Context, orgID string) (*models.Wallet, error) {
	return ensureWallet(ctx, r.db, orgID)
}

// CreditWallet adds purchased credits to an organization's wallet in one transaction
func (r *WalletRepository) CreditWallet(ctx context.Context, orgID string, amount int) (*models.Wallet, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := ensureWallet(ctx, tx, orgID); err != nil {
		return nil, err
	}
	w, err := creditWallet(ctx, tx, orgID, amount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit wallet credit: %w", err)
	}
	return w, nil
}

// GetTestWallet returns a user's test wallet, or nil when the user has none
func (r *WalletRepository) GetTestWallet(ctx context.Context, userID string) (*models.TestWallet, error) {
	query := `
		SELECT id, user_id, balance, reset_at, created_at
		FROM test_wallets
		WHERE user_id = $1
	`

	tw := &models.TestWallet{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&tw.ID,
		&tw.UserID,
		&tw.Balance,
		&tw.ResetAt,
		&tw.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test wallet: %w", err)
	}
	return tw, nil
}

// ResetExpiredTestWallets refills every test wallet whose reset time has passed and schedules
// its next reset. Returns the number of wallets reset.
func (r *WalletRepository) ResetExpiredTestWallets(ctx context.Context, now, nextReset time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE test_wallets
		SET balance = $1, reset_at = $2
		WHERE reset_at <= $3`,
		models.TestWalletCredits, nextReset, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset test wallets: %w", err)
	}
	return res.RowsAffected()
}

// ensureWallet inserts an empty wallet unless one exists, then returns the stored row
func ensureWallet(ctx context.Context, q querier, orgID string) (*models.Wallet, error) {
	now := time.Now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO wallets (id, organization_id, balance, total_purchased, total_used, currency, created_at, updated_at)
		VALUES ($1, $2, 0, 0, 0, $3, $4, $4)
		ON CONFLICT (organization_id) DO NOTHING`,
		uuid.New().String(), orgID, models.DefaultCurrency, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	w, err := scanWallet(q.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE organization_id = $1`, orgID))
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet: %w", err)
	}
	return w, nil
}

// creditWallet adds amount to the balance and the purchased total of an existing wallet
func creditWallet(ctx context.Context, q querier, orgID string, amount int) (*models.Wallet, error) {
	w, err := scanWallet(q.QueryRowContext(ctx, `
		UPDATE wallets
		SET balance = balance + $2,
		    total_purchased = total_purchased + $2,
		    updated_at = $3
		WHERE organization_id = $1
		RETURNING `+walletColumns,
		orgID, amount, time.Now(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}
	return w, nil
}

// ensureTestWallet gives a user a full test wallet unless one exists
func ensureTestWallet(ctx context.Context, q querier, userID string, resetAt time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO test_wallets (id, user_id, balance, reset_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING`,
		uuid.New().String(), userID, models.TestWalletCredits, resetAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to create test wallet: %w", err)
	}
	return nil
}
