package admin

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/db/repositories"
	"github.com/rnblock/api-key-provider/internal/services"
)

type fakeOrgs struct {
	memberships []*models.UserMembership
	view        *services.OrganizationView
	gotUser     *models.User
}

func (f *fakeOrgs) ListForUser(context.Context, string) ([]*models.UserMembership, error) {
	return f.memberships, nil
}

func (f *fakeOrgs) CreateDefault(_ context.Context, user *models.User) (*services.OrganizationView, error) {
	f.gotUser = user
	return f.view, nil
}

type fakeUsers struct {
	user *models.User
	err  error
}

func (f *fakeUsers) GetUser(_ context.Context, userID string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

type fakeAudit struct {
	orgID   string
	filters repositories.AuditFilters
	limit   int
	offset  int
}

func (f *fakeAudit) ListOrganizationAuditLogs(_ context.Context, orgID string, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	f.orgID, f.filters, f.limit, f.offset = orgID, filters, limit, offset
	kind := "api_key"
	return []*models.AuditLog{{ID: "log-1", Action: "api_key.create", ResourceType: &kind, CreatedAt: time.Now()}}, 61, nil
}

func newOrgRouter(orgs *fakeOrgs, users *fakeUsers, audit *fakeAudit) http.Handler {
	h := NewOrganizationHandlers(orgs, users, audit)
	r := newRouter()
	r.GET("/orgs", h.ListOrganizationsHandler())
	r.POST("/orgs/default", h.CreateDefaultOrganizationHandler())
	r.GET("/orgs/:orgId/audit-logs", h.ListAuditLogsHandler())
	return r
}

func TestListOrganizationsHandler_EmptyIsArray(t *testing.T) {
	w := do(newOrgRouter(&fakeOrgs{}, &fakeUsers{}, &fakeAudit{}), http.MethodGet, "/orgs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, w.Body.String())
}

func TestCreateDefaultOrganizationHandler(t *testing.T) {
	user := &models.User{ID: testUserID, Email: "ada@example.com", Name: "Ada"}

	orgs := &fakeOrgs{view: &services.OrganizationView{ID: "org-1", Name: "Ada's Workspace", Slug: "ada", Role: "owner", Created: true}}
	w := do(newOrgRouter(orgs, &fakeUsers{user: user}, &fakeAudit{}), http.MethodPost, "/orgs/default", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Same(t, user, orgs.gotUser)

	orgs = &fakeOrgs{view: &services.OrganizationView{ID: "org-1", Name: "Ada's Workspace", Slug: "ada", Role: "owner"}}
	w = do(newOrgRouter(orgs, &fakeUsers{user: user}, &fakeAudit{}), http.MethodPost, "/orgs/default", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(newOrgRouter(&fakeOrgs{}, &fakeUsers{err: services.ErrUnauthenticated}, &fakeAudit{}), http.MethodPost, "/orgs/default", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(newOrgRouter(&fakeOrgs{}, &fakeUsers{err: errors.New("db down")}, &fakeAudit{}), http.MethodPost, "/orgs/default", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListAuditLogsHandler(t *testing.T) {
	audit := &fakeAudit{}
	w := do(newOrgRouter(&fakeOrgs{}, &fakeUsers{}, audit), http.MethodGet,
		"/orgs/org-1/audit-logs?page=3&per_page=20&action=api_key.create&since=2026-01-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "org-1", audit.orgID)
	assert.Equal(t, 20, audit.limit)
	assert.Equal(t, 40, audit.offset)
	require.NotNil(t, audit.filters.Action)
	assert.Equal(t, "api_key.create", *audit.filters.Action)
	assert.Nil(t, audit.filters.ResourceType)
	require.NotNil(t, audit.filters.Since)

	var body struct {
		Entries    []auditEntryView `json:"entries"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	decodeData(t, w, &body)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "api_key.create", body.Entries[0].Action)
	assert.Equal(t, 61, body.Pagination.Total)
}

func TestListAuditLogsHandler_Defaults(t *testing.T) {
	audit := &fakeAudit{}
	w := do(newOrgRouter(&fakeOrgs{}, &fakeUsers{}, audit), http.MethodGet, "/orgs/org-1/audit-logs?per_page=1000&page=-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50, audit.limit)
	assert.Equal(t, 0, audit.offset)

	w = do(newOrgRouter(&fakeOrgs{}, &fakeUsers{}, audit), http.MethodGet, "/orgs/org-1/audit-logs?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
