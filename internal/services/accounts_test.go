package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/auth/oidc"
	"github.com/rnblock/api-key-provider/internal/db/models"
	mailer "github.com/rnblock/api-key-provider/internal/mail"
)

type accountFixture struct {
	svc   *AccountService
	users *fakeUsers
	orgs  *fakeOrgs
	mail  *fakeMail
}

func newAccountFixture(requireVerification bool, limits SendLimiter) *accountFixture {
	f := &accountFixture{users: newFakeUsers(), orgs: newFakeOrgs(), mail: &fakeMail{}}
	f.svc = NewAccountService(f.users, NewOrganizationService(f.orgs), fakeSessions{}, f.mail, limits, AccountOptions{
		PublicURL:                "https://app.example.com/",
		RequireEmailVerification: requireVerification,
	})
	return f
}

func (f *accountFixture) addUser(t *testing.T, email, password string, verified bool) *models.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	u := &models.User{Email: email, Name: "Ada", PasswordHash: &hash, EmailVerified: verified}
	require.NoError(t, f.users.CreateUser(context.Background(), u))
	return u
}

// tokenFromMail extracts the plaintext token from the last mailed link
func (f *accountFixture) tokenFromMail(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.mail.sent)
	link, err := url.Parse(f.mail.sent[len(f.mail.sent)-1].URL)
	require.NoError(t, err)
	return link.Query().Get("token")
}

// ---------------------------------------------------------------------------
// SignUp
// ---------------------------------------------------------------------------

func TestAccountService_SignUp_RequiresVerification(t *testing.T) {
	f := newAccountFixture(true, nil)

	res, err := f.svc.SignUp(context.Background(), "  Ada@Example.com ", "correct horse", "Ada")
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	assert.True(t, res.VerificationSent)
	assert.Equal(t, "ada@example.com", res.User.Email)
	assert.NotEqual(t, "correct horse", *res.User.PasswordHash)

	require.Len(t, f.mail.sent, 1)
	msg := f.mail.sent[0]
	assert.Equal(t, mailer.TypeVerification, msg.Type)
	assert.True(t, strings.HasPrefix(msg.URL, "https://app.example.com/api/auth/verify-email?token="))

	require.Len(t, f.orgs.created, 1)
	assert.Equal(t, "Ada's Workspace", f.orgs.created[0].Name)
}

func TestAccountService_SignUp_SessionWithoutVerification(t *testing.T) {
	f := newAccountFixture(false, nil)

	res, err := f.svc.SignUp(context.Background(), "ada@example.com", "correct horse", "")
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, "session-"+res.User.ID, res.Session.Token)
}

func TestAccountService_SignUp_Rejects(t *testing.T) {
	f := newAccountFixture(true, nil)
	f.addUser(t, "taken@example.com", "password1", true)

	_, err := f.svc.SignUp(context.Background(), "not-an-email", "password1", "x")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.SignUp(context.Background(), "a@example.com", "short", "x")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)

	_, err = f.svc.SignUp(context.Background(), "taken@example.com", "password1", "x")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAccountService_SignUp_MailLimitDoesNotBlockAccount(t *testing.T) {
	f := newAccountFixture(true, fakeLimiter{err: mailer.ErrUserEmailLimit})

	res, err := f.svc.SignUp(context.Background(), "ada@example.com", "password1", "Ada")
	require.NoError(t, err)
	assert.False(t, res.VerificationSent)
	assert.Empty(t, f.mail.sent)
	assert.NotEmpty(t, res.User.ID)
}

// ---------------------------------------------------------------------------
// SignIn
// ---------------------------------------------------------------------------

func TestAccountService_SignIn(t *testing.T) {
	f := newAccountFixture(true, nil)
	verified := f.addUser(t, "ada@example.com", "password1", true)
	f.addUser(t, "new@example.com", "password1", false)

	s, err := f.svc.SignIn(context.Background(), "ada@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, verified.ID, s.User.ID)

	_, err = f.svc.SignIn(context.Background(), "ada@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.svc.SignIn(context.Background(), "ghost@example.com", "password1")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.svc.SignIn(context.Background(), "new@example.com", "password1")
	assert.ErrorIs(t, err, ErrEmailNotVerified)
}

func TestAccountService_SignIn_OIDCOnlyAccount(t *testing.T) {
	f := newAccountFixture(false, nil)
	require.NoError(t, f.users.CreateUser(context.Background(), &models.User{Email: "sso@example.com", EmailVerified: true}))

	_, err := f.svc.SignIn(context.Background(), "sso@example.com", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

// ---------------------------------------------------------------------------
// Email verification and password reset
// ---------------------------------------------------------------------------

func TestAccountService_VerifyEmail(t *testing.T) {
	f := newAccountFixture(true, nil)
	res, err := f.svc.SignUp(context.Background(), "ada@example.com", "password1", "Ada")
	require.NoError(t, err)
	token := f.tokenFromMail(t)

	user, err := f.svc.VerifyEmail(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, user.ID)
	assert.True(t, user.EmailVerified)

	_, err = f.svc.VerifyEmail(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.VerifyEmail(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAccountService_VerifyEmail_Expired(t *testing.T) {
	f := newAccountFixture(true, nil)
	_, err := f.svc.SignUp(context.Background(), "ada@example.com", "password1", "Ada")
	require.NoError(t, err)
	token := f.tokenFromMail(t)

	f.svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = f.svc.VerifyEmail(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAccountService_PasswordReset(t *testing.T) {
	f := newAccountFixture(true, nil)
	u := f.addUser(t, "ada@example.com", "old-password", false)

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "ada@example.com"))
	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, mailer.TypeResetPassword, f.mail.sent[0].Type)
	assert.True(t, strings.HasPrefix(f.mail.sent[0].URL, "https://app.example.com/reset-password?token="))
	token := f.tokenFromMail(t)

	_, err := f.svc.VerifyEmail(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken, "reset tokens must not verify email")

	require.NoError(t, f.svc.ResetPassword(context.Background(), token, "new-password"))
	assert.True(t, auth.CheckPassword(*u.PasswordHash, "new-password"))
	assert.True(t, u.EmailVerified)

	err = f.svc.ResetPassword(context.Background(), token, "another-password")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAccountService_PasswordReset_UnknownEmail(t *testing.T) {
	f := newAccountFixture(true, nil)
	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "ghost@example.com"))
	assert.Empty(t, f.mail.sent)
}

func TestAccountService_PasswordReset_Limited(t *testing.T) {
	f := newAccountFixture(true, fakeLimiter{err: mailer.ErrGlobalEmailLimit})
	f.addUser(t, "ada@example.com", "password1", true)

	err := f.svc.RequestPasswordReset(context.Background(), "ada@example.com")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestAccountService_ResetPassword_WeakPassword(t *testing.T) {
	f := newAccountFixture(true, nil)
	err := f.svc.ResetPassword(context.Background(), "whatever", "short")
	assert.ErrorIs(t, err, ErrValidation)
}

// ---------------------------------------------------------------------------
// OIDC
// ---------------------------------------------------------------------------

func TestAccountService_SignInWithOIDC(t *testing.T) {
	id := &oidc.Identity{Provider: "google", Subject: "g-123", Email: "ada@example.com", EmailVerified: true, Name: "Ada"}

	t.Run("creates account and workspace", func(t *testing.T) {
		f := newAccountFixture(true, nil)
		s, err := f.svc.SignInWithOIDC(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, s.User.EmailVerified)
		assert.Equal(t, "g-123", *s.User.OIDCSub)
		assert.Len(t, f.orgs.created, 1)

		again, err := f.svc.SignInWithOIDC(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, s.User.ID, again.User.ID)
		assert.Len(t, f.users.users, 1)
	})

	t.Run("links existing password account", func(t *testing.T) {
		f := newAccountFixture(true, nil)
		u := f.addUser(t, "ada@example.com", "password1", false)

		s, err := f.svc.SignInWithOIDC(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, u.ID, s.User.ID)
		assert.True(t, u.EmailVerified)
		assert.Equal(t, "google", *u.OIDCProvider)
	})

	t.Run("refuses to link unverified provider email", func(t *testing.T) {
		f := newAccountFixture(true, nil)
		f.addUser(t, "ada@example.com", "password1", true)
		unverified := *id
		unverified.EmailVerified = false

		_, err := f.svc.SignInWithOIDC(context.Background(), &unverified)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestAccountService_GetUser(t *testing.T) {
	f := newAccountFixture(true, nil)
	u := f.addUser(t, "ada@example.com", "password1", true)

	got, err := f.svc.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)

	_, err = f.svc.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	f.users.err = errors.New("db down")
	_, err = f.svc.GetUser(context.Background(), u.ID)
	assert.Error(t, err)
}
