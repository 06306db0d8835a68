package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/rnblock/api-key-provider/internal/db/models"
)

const (
	// PersonalWorkspaceName names the organization created for a buyer without one
	PersonalWorkspaceName = "Personal Workspace"

	maxSlugLength   = 48
	slugAttempts    = 5
	defaultSlugBase = "workspace"
)

// OrganizationStore reads and creates organizations
type OrganizationStore interface {
	MembershipReader
	FirstMembershipReader
	GetByID(ctx context.Context, id string) (*models.Organization, error)
	GetUserMemberships(ctx context.Context, userID string) ([]*models.UserMembership, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	CreateWorkspace(ctx context.Context, org *models.Organization, ownerID string, testWalletResetAt time.Time) error
}

// OrphanUserLister lists users that belong to no organization
type OrphanUserLister interface {
	ListUsersWithoutOrganization(ctx context.Context) ([]*models.User, error)
}

// OrganizationView is the API representation of the caller's organization
type OrganizationView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	Role    string `json:"role"`
	Created bool   `json:"created"`
}

// OrganizationService bootstraps and lists workspaces
type OrganizationService struct {
	orgs OrganizationStore
	now  func() time.Time
}

// NewOrganizationService creates an OrganizationService
func NewOrganizationService(orgs OrganizationStore) *OrganizationService {
	return &OrganizationService{orgs: orgs, now: time.Now}
}

// ListForUser returns the caller's memberships, oldest first
func (s *OrganizationService) ListForUser(ctx context.Context, userID string) ([]*models.UserMembership, error) {
	return s.orgs.GetUserMemberships(ctx, userID)
}

// CreateDefault returns the user's first organization, creating "<name>'s Workspace" with an
// empty wallet and a full test wallet when the user has none.
func (s *OrganizationService) CreateDefault(ctx context.Context, user *models.User) (*OrganizationView, error) {
	existing, err := s.orgs.GetFirstMembership(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &OrganizationView{
			ID:   existing.OrganizationID,
			Name: existing.OrganizationName,
			Slug: existing.OrganizationSlug,
			Role: existing.Role,
		}, nil
	}

	base := displayName(user)
	slug, err := s.uniqueSlug(ctx, Slugify(base))
	if err != nil {
		return nil, err
	}
	org := &models.Organization{
		Name: base + "'s Workspace",
		Slug: slug,
	}
	if err := s.orgs.CreateWorkspace(ctx, org, user.ID, s.now().AddDate(0, 1, 0)); err != nil {
		return nil, err
	}

	slog.Info("created default organization", "user_id", user.ID, "org_id", org.ID, "slug", org.Slug)
	return &OrganizationView{ID: org.ID, Name: org.Name, Slug: org.Slug, Role: "owner", Created: true}, nil
}

// BootstrapAll creates a default organization for every user without one. Failures are logged
// and skipped; the count of created organizations is returned.
func (s *OrganizationService) BootstrapAll(ctx context.Context, users OrphanUserLister) (int, error) {
	orphans, err := users.ListUsersWithoutOrganization(ctx)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, u := range orphans {
		view, err := s.CreateDefault(ctx, u)
		if err != nil {
			slog.Error("failed to bootstrap organization", "user_id", u.ID, "error", err)
			continue
		}
		if view.Created {
			created++
		}
	}
	return created, nil
}

// PersonalWorkspace returns an unsaved fallback organization for a buyer without one
func PersonalWorkspace() *models.Organization {
	return &models.Organization{
		Name: PersonalWorkspaceName,
		Slug: Slugify(PersonalWorkspaceName) + "-" + randomSuffix(),
	}
}

func (s *OrganizationService) uniqueSlug(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 0; i < slugAttempts; i++ {
		exists, err := s.orgs.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = base + "-" + randomSuffix()
	}
	return "", fmt.Errorf("could not find a free slug for %q", base)
}

func displayName(u *models.User) string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(u.Email, "@")
	if local == "" {
		return "My"
	}
	return local
}

// Slugify lower-cases s and joins its letter and digit runs with single dashes
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	slug := b.String()
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return defaultSlugBase
	}
	return slug
}

func randomSuffix() string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%06x", time.Now().UnixNano()&0xffffff)
	}
	return hex.EncodeToString(b)
}
