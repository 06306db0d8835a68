// organization_repository.go implements OrganizationRepository, providing database queries for
// workspaces and their memberships, including the transactional creation of a new workspace
// with its owner, wallet and the owner's test wallet.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rnblock/api-key-provider/internal/db/models"
)

// OrganizationRepository handles organization database operations
type OrganizationRepository struct {
	db *sql.DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *sql.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	query := `
		SELECT id, name, slug, owner_id, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`

	org := &models.Organization{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID,
		&org.Name,
		&org.Slug,
		&org.OwnerID,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return org, nil
}

// SlugExists reports whether an organization already uses the slug
func (r *OrganizationRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM organizations WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check organization slug: %w", err)
	}
	return exists, nil
}

// GetMember retrieves a user's membership in an organization; nil when the user is not a member
func (r *OrganizationRepository) GetMember(ctx context.Context, orgID, userID string) (*models.OrganizationMember, error) {
	query := `
		SELECT id, organization_id, user_id, role, joined_at
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`

	member := &models.OrganizationMember{}
	err := r.db.QueryRowContext(ctx, query, orgID, userID).Scan(
		&member.ID,
		&member.OrganizationID,
		&member.UserID,
		&member.Role,
		&member.JoinedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization member: %w", err)
	}

	return member, nil
}

// GetUserMemberships lists a user's memberships, oldest first
func (r *OrganizationRepository) GetUserMemberships(ctx context.Context, userID string) ([]*models.UserMembership, error) {
	query := `
		SELECT om.organization_id, o.name, o.slug, om.role, om.joined_at
		FROM organization_members om
		INNER JOIN organizations o ON om.organization_id = o.id
		WHERE om.user_id = $1
		ORDER BY om.joined_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user memberships: %w", err)
	}
	defer rows.Close()

	memberships := make([]*models.UserMembership, 0)
	for rows.Next() {
		m := &models.UserMembership{}
		if err := rows.Scan(&m.OrganizationID, &m.OrganizationName, &m.OrganizationSlug, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

// GetFirstMembership returns the user's oldest membership, or nil when the user has none
func (r *OrganizationRepository) GetFirstMembership(ctx context.Context, userID string) (*models.UserMembership, error) {
	memberships, err := r.GetUserMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, nil
	}
	return memberships[0], nil
}

// CreateWorkspace creates an organization owned by ownerID in one transaction: the organization
// row, the owner membership, an empty wallet and (if missing) the owner's test wallet.
func (r *OrganizationRepository) CreateWorkspace(ctx context.Context, org *models.Organization, ownerID string, testWalletResetAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := createOrganizationWithOwner(ctx, tx, org, ownerID); err != nil {
		return err
	}
	if _, err := ensureWallet(ctx, tx, org.ID); err != nil {
		return err
	}
	if err := ensureTestWallet(ctx, tx, ownerID, testWalletResetAt); err != nil {
		return err
	}

	return tx.Commit()
}

// createOrganizationWithOwner inserts the organization and its owner membership
func createOrganizationWithOwner(ctx context.Context, q querier, org *models.Organization, ownerID string) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	now := time.Now()
	org.CreatedAt = now
	org.UpdatedAt = now
	org.OwnerID = &ownerID

	_, err := q.ExecContext(ctx, `
		INSERT INTO organizations (id, name, slug, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		org.ID, org.Name, org.Slug, ownerID, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO organization_members (id, organization_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), org.ID, ownerID, "owner", now,
	)
	if err != nil {
		return fmt.Errorf("failed to add organization owner: %w", err)
	}
	return nil
}

// firstMembershipOrgID returns the organization of the user's oldest membership, or "" when none
func firstMembershipOrgID(ctx context.Context, q querier, userID string) (string, error) {
	var orgID string
	err := q.QueryRowContext(ctx, `
		SELECT organization_id FROM organization_members
		WHERE user_id = $1
		ORDER BY joined_at ASC
		LIMIT 1`, userID).Scan(&orgID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find user organization: %w", err)
	}
	return orgID, nil
}
