package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

var (
	walletCols     = []string{"id", "organization_id", "balance", "total_purchased", "total_used", "currency", "created_at", "updated_at"}
	testWalletCols = []string{"id", "user_id", "balance", "reset_at", "created_at"}
)

func newWalletRepo(t *testing.T) (*WalletRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewWalletRepository(db), mock
}

// ---------------------------------------------------------------------------
// GetWallet / GetOrCreateWallet
// ---------------------------------------------------------------------------

func TestGetWallet_NotFound(t *testing.T) {
	repo, mock := newWalletRepo(t)
	mock.ExpectQuery("SELECT .* FROM wallets").WillReturnRows(sqlmock.NewRows(walletCols))

	w, err := repo.GetWallet(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Errorf("expected nil, got %+v", w)
	}
}

func TestGetOrCreateWallet_InsertsThenReads(t *testing.T) {
	repo, mock := newWalletRepo(t)
	now := time.Now()
	mock.ExpectExec("INSERT INTO wallets.*ON CONFLICT \\(organization_id\\) DO NOTHING").
		WithArgs(sqlmock.AnyArg(), "org-1", "EUR", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM wallets WHERE organization_id").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(walletCols).AddRow("w-1", "org-1", 250, 300, 50, "EUR", now, now))

	w, err := repo.GetOrCreateWallet(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Balance != 250 || w.TotalPurchased != 300 || w.TotalUsed != 50 {
		t.Errorf("wallet = %+v", w)
	}
	expectationsMet(t, mock)
}

func TestGetOrCreateWallet_InsertError(t *testing.T) {
	repo, mock := newWalletRepo(t)
	mock.ExpectExec("INSERT INTO wallets").WillReturnError(errDB)

	if _, err := repo.GetOrCreateWallet(context.Background(), "org-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// CreditWallet
// ---------------------------------------------------------------------------

func TestCreditWallet_Success(t *testing.T) {
	repo, mock := newWalletRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wallets").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM wallets").
		WillReturnRows(sqlmock.NewRows(walletCols).AddRow("w-1", "org-1", 0, 0, 0, "EUR", now, now))
	mock.ExpectQuery("UPDATE wallets\\s+SET balance = balance \\+ \\$2,\\s+total_purchased = total_purchased \\+ \\$2").
		WithArgs("org-1", 1000, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(walletCols).AddRow("w-1", "org-1", 1000, 1000, 0, "EUR", now, now))
	mock.ExpectCommit()

	w, err := repo.CreditWallet(context.Background(), "org-1", 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Balance != 1000 || w.TotalPurchased != 1000 {
		t.Errorf("wallet = %+v", w)
	}
	expectationsMet(t, mock)
}

func TestCreditWallet_RejectsNonPositive(t *testing.T) {
	repo, mock := newWalletRepo(t)

	if _, err := repo.CreditWallet(context.Background(), "org-1", 0); err == nil {
		t.Error("expected error for zero credit, got nil")
	}
	expectationsMet(t, mock)
}

// ---------------------------------------------------------------------------
// Test wallets
// ---------------------------------------------------------------------------

func TestGetTestWallet_Found(t *testing.T) {
	repo, mock := newWalletRepo(t)
	resetAt := time.Now().AddDate(0, 1, 0)
	mock.ExpectQuery("SELECT .* FROM test_wallets").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(testWalletCols).AddRow("tw-1", "user-1", 42, resetAt, time.Now()))

	tw, err := repo.GetTestWallet(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tw == nil || tw.Balance != 42 {
		t.Errorf("test wallet = %+v", tw)
	}
}

func TestGetTestWallet_NotFound(t *testing.T) {
	repo, mock := newWalletRepo(t)
	mock.ExpectQuery("SELECT .* FROM test_wallets").WillReturnRows(sqlmock.NewRows(testWalletCols))

	tw, err := repo.GetTestWallet(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tw != nil {
		t.Errorf("expected nil, got %+v", tw)
	}
}

func TestResetExpiredTestWallets(t *testing.T) {
	repo, mock := newWalletRepo(t)
	now := time.Now()
	next := now.AddDate(0, 1, 0)
	mock.ExpectExec("UPDATE test_wallets").
		WithArgs(100, next, now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ResetExpiredTestWallets(context.Background(), now, next)
	if err != nil || n != 3 {
		t.Errorf("ResetExpiredTestWallets() = %d, %v; want 3, nil", n, err)
	}
}
