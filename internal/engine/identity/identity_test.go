package identity

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/platform/auth"
	"taskflow/internal/platform/config"
	"taskflow/internal/platform/database/dbtest"
	"taskflow/internal/platform/models"
	"taskflow/internal/platform/repositories"
)

type fixture struct {
	db        *sqlx.DB
	passwords *auth.Passwords
	resolver  *Resolver
	authn     *Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	sessions := auth.NewSessionAuthority(config.JWTConfig{
		AccessSecret:    "access",
		RefreshSecret:   "refresh",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "taskflow-api",
		Audience:        "taskflow-web",
	})
	passwords := auth.NewPasswords(bcrypt.MinCost)
	resolver := NewResolver(db, sessions)
	return &fixture{
		db:        db,
		passwords: passwords,
		resolver:  resolver,
		authn:     NewAuthenticator(db, sessions, passwords, resolver, 8),
	}
}

func (f *fixture) user(t *testing.T, username, role, password string, opts dbtest.UserOpts) string {
	t.Helper()
	hash, err := f.passwords.Hash(password)
	require.NoError(t, err)
	opts.PasswordHash = &hash
	return dbtest.User(t, f.db, username, role, opts)
}

func TestLogin_ByUsernameAndEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tenant := dbtest.Tenant(t, f.db, "Acme", dbtest.TenantOpts{})
	site := dbtest.Site(t, f.db, tenant, "HQ")
	id := f.user(t, "jane", "MANAGER", "s3cret-pass", dbtest.UserOpts{PrimarySiteID: &site, Email: "Jane@Example.com"})
	dbtest.Member(t, f.db, site, id, true)

	session, err := f.authn.Login(ctx, "jane", "s3cret-pass")
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, "MANAGER", session.User.Role)
	assert.True(t, session.User.IsManager)
	require.NotNil(t, session.User.SiteName)
	assert.Equal(t, "HQ", *session.User.SiteName)

	_, err = f.authn.Login(ctx, "jane@example.com", "s3cret-pass")
	require.NoError(t, err)

	user, err := repositories.NewUserRepository(f.db).GetByID(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, user.LastLoginAt)

	p, err := f.resolver.Resolve(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID())
	assert.Equal(t, models.RoleManager, p.Role())
	assert.Equal(t, site, p.PrimarySiteID())
	assert.Equal(t, []string{site}, p.SiteIDs())
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.user(t, "jane", "USER", "s3cret-pass", dbtest.UserOpts{})
	f.user(t, "off", "USER", "s3cret-pass", dbtest.UserOpts{})
	_, err := f.db.Exec(`UPDATE users SET is_active = 0 WHERE username = 'off'`)
	require.NoError(t, err)

	cases := map[string][2]string{
		"wrong password": {"jane", "nope-nope"},
		"unknown user":   {"ghost", "s3cret-pass"},
		"unknown email":  {"ghost@example.com", "s3cret-pass"},
		"inactive":       {"off", "s3cret-pass"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.authn.Login(ctx, c[0], c[1])
			assert.ErrorIs(t, err, errors.ErrInvalidCredentials)
		})
	}
}

func TestLogin_ActivationGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dbtest.User(t, f.db, "invited", "USER", dbtest.UserOpts{Inactive: true})
	_, err := f.db.Exec(`UPDATE users SET is_active = 1 WHERE username = 'invited'`)
	require.NoError(t, err)

	_, err = f.authn.Login(ctx, "invited", "")
	assert.Error(t, err)
	_, err = f.authn.Login(ctx, "invited", "anything-at-all")
	assert.ErrorIs(t, err, errors.ErrInvalidCredentials)
}

func TestResolve_TokenVersionBumpInvalidatesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.user(t, "jane", "USER", "s3cret-pass", dbtest.UserOpts{})
	session, err := f.authn.Login(ctx, "jane", "s3cret-pass")
	require.NoError(t, err)

	p, err := f.resolver.Resolve(ctx, session.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.authn.LogoutEverywhere(ctx, p))

	_, err = f.resolver.Resolve(ctx, session.AccessToken)
	assert.ErrorIs(t, err, errors.ErrInvalidToken)

	_, err = f.authn.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, errors.ErrInvalidToken)

	fresh, err := f.authn.Login(ctx, "jane", "s3cret-pass")
	require.NoError(t, err)
	p, err = f.resolver.Resolve(ctx, fresh.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID())
	assert.Equal(t, 1, p.TokenVersion())
}

func TestResolve_DeactivatedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.user(t, "jane", "USER", "s3cret-pass", dbtest.UserOpts{})
	session, err := f.authn.Login(ctx, "jane", "s3cret-pass")
	require.NoError(t, err)

	_, err = f.db.Exec(`UPDATE users SET is_active = 0 WHERE username = 'jane'`)
	require.NoError(t, err)

	_, err = f.resolver.Resolve(ctx, session.AccessToken)
	assert.ErrorIs(t, err, errors.ErrInvalidUser)
}

func TestResolve_RejectsGarbageAndRefreshAsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, errors.ErrInvalidToken)

	f.user(t, "jane", "USER", "s3cret-pass", dbtest.UserOpts{})
	session, err := f.authn.Login(ctx, "jane", "s3cret-pass")
	require.NoError(t, err)

	_, err = f.resolver.Resolve(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, errors.ErrInvalidToken)
	_, err = f.resolver.ResolveRefresh(ctx, session.AccessToken)
	assert.ErrorIs(t, err, errors.ErrInvalidToken)
}

func TestRefresh_IssuesWorkingPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.user(t, "jane", "OWNER", "s3cret-pass", dbtest.UserOpts{})
	session, err := f.authn.Login(ctx, "jane", "s3cret-pass")
	require.NoError(t, err)

	next, err := f.authn.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)

	p, err := f.resolver.Resolve(ctx, next.AccessToken)
	require.NoError(t, err)
	assert.True(t, p.IsOwner())
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.user(t, "jane", "USER", "s3cret-pass", dbtest.UserOpts{})
	session, err := f.authn.Login(ctx, "jane", "s3cret-pass")
	require.NoError(t, err)
	p, err := f.resolver.Resolve(ctx, session.AccessToken)
	require.NoError(t, err)

	_, err = f.authn.ChangePassword(ctx, p, "wrong-current", "new-pass-123")
	assert.ErrorIs(t, err, errors.ErrInvalidCredentials)

	_, err = f.authn.ChangePassword(ctx, p, "s3cret-pass", "short")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	next, err := f.authn.ChangePassword(ctx, p, "s3cret-pass", "new-pass-123")
	require.NoError(t, err)
	assert.False(t, next.User.MustChangePwd)

	_, err = f.resolver.Resolve(ctx, session.AccessToken)
	assert.ErrorIs(t, err, errors.ErrInvalidToken, "old session must be revoked")

	_, err = f.resolver.Resolve(ctx, next.AccessToken)
	assert.NoError(t, err)

	_, err = f.authn.Login(ctx, "jane", "new-pass-123")
	assert.NoError(t, err)
}
