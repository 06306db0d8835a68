package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rnblock/api-key-provider/internal/db/models"
)

var (
	orgCols        = []string{"id", "name", "slug", "owner_id", "created_at", "updated_at"}
	memberCols     = []string{"id", "organization_id", "user_id", "role", "joined_at"}
	membershipCols = []string{"organization_id", "name", "slug", "role", "joined_at"}
)

func newOrgRepo(t *testing.T) (*OrganizationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewOrganizationRepository(db), mock
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

func TestOrganizationGetByID_Found(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT .* FROM organizations").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(orgCols).
			AddRow("org-1", "Ada's Workspace", "adas-workspace", "user-1", time.Now(), time.Now()))

	org, err := repo.GetByID(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org == nil || org.Slug != "adas-workspace" {
		t.Errorf("org = %+v", org)
	}
}

func TestOrganizationGetByID_NotFound(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT .* FROM organizations").
		WillReturnRows(sqlmock.NewRows(orgCols))

	org, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org != nil {
		t.Errorf("expected nil, got %+v", org)
	}
}

func TestSlugExists(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("taken").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.SlugExists(context.Background(), "taken")
	if err != nil || !exists {
		t.Errorf("SlugExists() = %v, %v; want true, nil", exists, err)
	}
}

// ---------------------------------------------------------------------------
// Membership
// ---------------------------------------------------------------------------

func TestGetMember_Found(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT .* FROM organization_members").
		WithArgs("org-1", "user-1").
		WillReturnRows(sqlmock.NewRows(memberCols).
			AddRow("m-1", "org-1", "user-1", "developer", time.Now()))

	member, err := repo.GetMember(context.Background(), "org-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if member == nil || member.Role != "developer" {
		t.Errorf("member = %+v", member)
	}
}

func TestGetMember_NotMember(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT .* FROM organization_members").
		WillReturnRows(sqlmock.NewRows(memberCols))

	member, err := repo.GetMember(context.Background(), "org-1", "stranger")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if member != nil {
		t.Errorf("expected nil, got %+v", member)
	}
}

func TestGetMember_DBError(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT .* FROM organization_members").WillReturnError(errDB)

	if _, err := repo.GetMember(context.Background(), "org-1", "user-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestGetFirstMembership(t *testing.T) {
	repo, mock := newOrgRepo(t)
	earlier := time.Now().Add(-time.Hour)
	mock.ExpectQuery("SELECT .* FROM organization_members om.*ORDER BY om.joined_at ASC").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(membershipCols).
			AddRow("org-1", "First", "first", "owner", earlier).
			AddRow("org-2", "Second", "second", "developer", time.Now()))

	m, err := repo.GetFirstMembership(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil || m.OrganizationID != "org-1" {
		t.Errorf("membership = %+v, want org-1", m)
	}
}

func TestGetFirstMembership_None(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT .* FROM organization_members om").
		WillReturnRows(sqlmock.NewRows(membershipCols))

	m, err := repo.GetFirstMembership(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil, got %+v", m)
	}
}

// ---------------------------------------------------------------------------
// CreateWorkspace
// ---------------------------------------------------------------------------

func TestCreateWorkspace_Success(t *testing.T) {
	repo, mock := newOrgRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO organizations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO organization_members").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "user-1", "owner", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO wallets.*ON CONFLICT \\(organization_id\\) DO NOTHING").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT .* FROM wallets").
		WillReturnRows(sqlmock.NewRows(walletCols).AddRow("w-1", "org-new", 0, 0, 0, "EUR", now, now))
	mock.ExpectExec("INSERT INTO test_wallets.*ON CONFLICT \\(user_id\\) DO NOTHING").
		WithArgs(sqlmock.AnyArg(), "user-1", models.TestWalletCredits, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	org := &models.Organization{Name: "Ada's Workspace", Slug: "adas-workspace"}
	if err := repo.CreateWorkspace(context.Background(), org, "user-1", now.AddDate(0, 1, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org.ID == "" || org.OwnerID == nil || *org.OwnerID != "user-1" {
		t.Errorf("org = %+v", org)
	}
	expectationsMet(t, mock)
}

func TestCreateWorkspace_RollsBackOnFailure(t *testing.T) {
	repo, mock := newOrgRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO organizations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO organization_members").WillReturnError(errDB)
	mock.ExpectRollback()

	org := &models.Organization{Name: "x", Slug: "x"}
	if err := repo.CreateWorkspace(context.Background(), org, "user-1", time.Now()); err == nil {
		t.Error("expected error, got nil")
	}
	expectationsMet(t, mock)
}
