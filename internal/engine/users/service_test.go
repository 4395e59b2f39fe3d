package users

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"taskflow/internal/engine/access"
	"taskflow/internal/engine/credentials"
	"taskflow/internal/engine/quota"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/platform/database/dbtest"
	"taskflow/internal/platform/models"
)

type fakeInviter struct {
	mu    sync.Mutex
	calls map[string]string
	err   error
}

func (f *fakeInviter) IssueInvite(ctx context.Context, userID, siteHint string) (*credentials.Issued, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]string{}
	}
	f.calls[userID] = siteHint
	if f.err != nil {
		return nil, f.err
	}
	return &credentials.Issued{TokenID: "tok_" + userID, Type: models.TokenInvite, Delivered: true}, nil
}

type fixture struct {
	db      *sqlx.DB
	inviter *fakeInviter
	svc     *Service
	tenant  string
	siteA   string
	siteB   string
}

func newFixture(t *testing.T, opts dbtest.TenantOpts) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	inviter := &fakeInviter{}
	f := &fixture{
		db:      db,
		inviter: inviter,
		svc:     NewService(db, quota.NewLedger(db), inviter, nil),
	}
	f.tenant = dbtest.Tenant(t, db, "Acme", opts)
	f.siteA = dbtest.Site(t, db, f.tenant, "A")
	f.siteB = dbtest.Site(t, db, f.tenant, "B")
	return f
}

// member inserts a user of role with memberships in sites; the first site
// becomes the primary one.
func (f *fixture) member(t *testing.T, username, role string, sites ...string) string {
	t.Helper()
	opts := dbtest.UserOpts{}
	if len(sites) > 0 {
		opts.PrimarySiteID = &sites[0]
	}
	id := dbtest.User(t, f.db, username, role, opts)
	for _, s := range sites {
		dbtest.Member(t, f.db, s, id, role == "MANAGER")
	}
	return id
}

func as(id string, role models.Role, sites ...string) *access.Principal {
	primary := ""
	if len(sites) > 0 {
		primary = sites[0]
	}
	return access.NewPrincipal(access.PrincipalInput{ID: id, Username: id, Role: role, PrimarySiteID: primary, SiteIDs: sites})
}

func input(username, role string) CreateInput {
	return CreateInput{FirstName: "New", LastName: "Person", Username: username, Email: username + "@example.com", Role: role}
}

func strPtr(s string) *string { return &s }

func TestCreate_ManagerCreatesUserOnOwnSite(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{})
	ctx := context.Background()
	mgr := f.member(t, "boss", "MANAGER", f.siteA)
	team := dbtest.Team(t, f.db, f.siteA, "Blue", &mgr)

	in := input("worker", "")
	in.TeamID = &team
	created, err := f.svc.Create(ctx, as(mgr, models.RoleManager, f.siteA), f.siteA, in)
	require.NoError(t, err)

	u := created.User
	assert.Equal(t, "USER", u.RoleID)
	assert.False(t, u.IsActive)
	assert.True(t, u.MustChangePwd)
	assert.False(t, u.HasPassword())
	require.NotNil(t, u.PrimarySiteID)
	assert.Equal(t, f.siteA, *u.PrimarySiteID)
	require.NotNil(t, u.TeamID)
	assert.Equal(t, team, *u.TeamID)
	require.Len(t, u.Memberships, 1)
	assert.False(t, u.Memberships[0].IsManager)

	require.NotNil(t, created.Invite)
	assert.Equal(t, f.siteA, f.inviter.calls[u.ID])
}

func TestCreate_OwnerAndAdminAccountsAreUnattached(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{})
	ctx := context.Background()

	created, err := f.svc.Create(ctx, as("admin", models.RoleAdmin), f.siteA, input("second-owner", "owner"))
	require.NoError(t, err)
	assert.Equal(t, "OWNER", created.User.RoleID)
	assert.Nil(t, created.User.PrimarySiteID)
	assert.Empty(t, created.User.Memberships)
}

func TestCreate_QuotaReachedCreatesNothing(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{MaxManagers: dbtest.IntPtr(2)})
	ctx := context.Background()

	f.member(t, "m1", "MANAGER", f.siteA)
	f.member(t, "m2", "MANAGER", f.siteB)
	before := dbtest.Count(t, f.db, `SELECT COUNT(*) FROM users`)

	owner := as("owner", models.RoleOwner, f.siteA)
	_, err := f.svc.Create(ctx, owner, f.siteA, input("m3", "MANAGER"))
	require.Error(t, err)
	assert.True(t, errors.IsQuotaExceeded(err))
	assert.Equal(t, "Manager quota reached", errors.Reason(err))

	assert.Equal(t, before, dbtest.Count(t, f.db, `SELECT COUNT(*) FROM users`))
	assert.Empty(t, f.inviter.calls)
}

func TestCreate_ManagerCannotCreateOwner(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{})
	mgr := f.member(t, "boss", "MANAGER", f.siteA)

	_, err := f.svc.Create(context.Background(), as(mgr, models.RoleManager, f.siteA), f.siteA, input("wannabe", "OWNER"))
	assert.True(t, errors.Is(err, errors.Forbidden(access.ReasonManagerCreatesUser)))
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{})
	ctx := context.Background()
	mgr := f.member(t, "boss", "MANAGER", f.siteA)
	p := as(mgr, models.RoleManager, f.siteA)
	otherTeam := dbtest.Team(t, f.db, f.siteB, "Elsewhere", nil)

	_, err := f.svc.Create(ctx, p, f.siteB, input("x1", "USER"))
	assert.Equal(t, access.ReasonWrongSiteScope, errors.Reason(err))

	_, err = f.svc.Create(ctx, p, "", input("x2", "USER"))
	assert.Equal(t, access.ReasonMissingSiteID, errors.Reason(err))

	in := input("x3", "USER")
	in.TeamID = &otherTeam
	_, err = f.svc.Create(ctx, p, f.siteA, in)
	assert.Equal(t, ReasonTeamOutsideSite, errors.Reason(err))

	_, err = f.svc.Create(ctx, p, f.siteA, input("x4", "SUPERUSER"))
	assert.ErrorIs(t, err, errors.ErrInvalidRole)

	_, err = f.svc.Create(ctx, p, f.siteA, input("boss", "USER"))
	assert.True(t, errors.Is(err, errors.ErrConflict))

	_, err = f.svc.Create(ctx, p, f.siteA, CreateInput{Username: "x5", Email: "x5@example.com"})
	assert.Equal(t, ReasonMissingUserDetails, errors.Reason(err))
}

func TestCreate_InviteFailureStillCreates(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{})
	f.inviter.err = errors.New("mail store down")

	created, err := f.svc.Create(context.Background(), as("admin", models.RoleAdmin), f.siteA, input("worker", "USER"))
	require.NoError(t, err)
	assert.Nil(t, created.Invite)
	assert.Equal(t, 1, dbtest.Count(t, f.db, `SELECT COUNT(*) FROM users WHERE username = 'worker'`))
}

func TestAddMembership_AlreadyCountedUserIsNotChargedAgain(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{MaxUsers: dbtest.IntPtr(1)})
	ctx := context.Background()

	worker := f.member(t, "worker", "USER", f.siteA)
	owner := as("owner", models.RoleOwner, f.siteA, f.siteB)

	got, err := f.svc.AddMembership(ctx, owner, worker, f.siteB)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.siteA, f.siteB}, got.SiteIDs())

	_, err = f.svc.AddMembership(ctx, owner, worker, f.siteB)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	// A different tenant at its limit charges the user.
	full := dbtest.Tenant(t, f.db, "Full", dbtest.TenantOpts{MaxUsers: dbtest.IntPtr(0)})
	fullSite := dbtest.Site(t, f.db, full, "F")
	_, err = f.svc.AddMembership(ctx, as("admin", models.RoleAdmin), worker, fullSite)
	assert.Equal(t, "User quota reached", errors.Reason(err))
}

func TestAddMembership_ForeignSite(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{})
	worker := f.member(t, "worker", "USER", f.siteA)
	mgr := f.member(t, "boss", "MANAGER", f.siteA)

	_, err := f.svc.AddMembership(context.Background(), as(mgr, models.RoleManager, f.siteA), worker, f.siteB)
	assert.Equal(t, access.ReasonForeignMembership, errors.Reason(err))
}

func TestList_Visibility(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{})
	ctx := context.Background()

	f.member(t, "root", "ADMIN")
	f.member(t, "own", "OWNER", f.siteA)
	mgr := f.member(t, "boss", "MANAGER", f.siteA)
	f.member(t, "a-worker", "USER", f.siteA)
	f.member(t, "b-worker", "USER", f.siteB)

	names := func(list []models.User) []string {
		out := []string{}
		for _, u := range list {
			out = append(out, u.Username)
		}
		return out
	}

	all, err := f.svc.List(ctx, as("admin", models.RoleAdmin))
	require.NoError(t, err)
	assert.Len(t, all, 5)

	owners, err := f.svc.List(ctx, as("owner", models.RoleOwner))
	require.NoError(t, err)
	assert.NotContains(t, names(owners), "root")
	assert.Len(t, owners, 4)

	managed, err := f.svc.List(ctx, as(mgr, models.RoleManager, f.siteA))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"own", "boss", "a-worker"}, names(managed))
	for _, u := range managed {
		assert.NotNil(t, u.Memberships)
	}
}

func TestGet_HidesAdminsAndForeignUsers(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{})
	ctx := context.Background()

	root := f.member(t, "root", "ADMIN")
	mgr := f.member(t, "boss", "MANAGER", f.siteA)
	foreign := f.member(t, "b-worker", "USER", f.siteB)

	_, err := f.svc.Get(ctx, as("owner", models.RoleOwner), root)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	_, err = f.svc.Get(ctx, as(mgr, models.RoleManager, f.siteA), foreign)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	_, err = f.svc.Get(ctx, as("admin", models.RoleAdmin), "usr_missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	got, err := f.svc.Get(ctx, as("admin", models.RoleAdmin), root)
	require.NoError(t, err)
	assert.Equal(t, "root", got.Username)
}

func TestUpdate_ProfileAndDeactivation(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{})
	ctx := context.Background()

	worker := f.member(t, "worker", "USER", f.siteA)
	owner := as("owner", models.RoleOwner, f.siteA)

	inactive := false
	got, err := f.svc.Update(ctx, owner, worker, UpdateInput{
		FirstName: strPtr("Renamed"),
		Email:     strPtr("  New@Example.com "),
		IsActive:  &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.FirstName)
	assert.Equal(t, "new@example.com", got.Email)
	assert.False(t, got.IsActive)
	assert.Equal(t, 1, got.TokenVersion)
}

func TestUpdate_CannotActivateWithoutPassword(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{})
	invited := dbtest.User(t, f.db, "invited", "USER", dbtest.UserOpts{Inactive: true, PrimarySiteID: &f.siteA})
	dbtest.Member(t, f.db, f.siteA, invited, false)

	active := true
	got, err := f.svc.Update(context.Background(), as("admin", models.RoleAdmin), invited, UpdateInput{IsActive: &active})
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestUpdate_RoleAndMemberships(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{MaxManagers: dbtest.IntPtr(1)})
	ctx := context.Background()

	worker := f.member(t, "worker", "USER", f.siteA)
	mgr := f.member(t, "boss", "MANAGER", f.siteA)
	owner := as("owner", models.RoleOwner, f.siteA, f.siteB)

	_, err := f.svc.Update(ctx, as(mgr, models.RoleManager, f.siteA), worker, UpdateInput{Role: strPtr("MANAGER")})
	assert.Equal(t, access.ReasonManagerSetsUser, errors.Reason(err))

	_, err = f.svc.Update(ctx, owner, worker, UpdateInput{Role: strPtr("MANAGER")})
	assert.Equal(t, "Manager quota reached", errors.Reason(err))

	_, err = f.svc.Update(ctx, owner, worker, UpdateInput{RemoveSites: []string{f.siteA}})
	assert.Equal(t, ReasonRemovePrimarySite, errors.Reason(err))

	got, err := f.svc.Update(ctx, owner, worker, UpdateInput{AddSites: []string{f.siteB}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.siteA, f.siteB}, got.SiteIDs())

	got, err = f.svc.Update(ctx, owner, worker, UpdateInput{PrimarySiteID: &f.siteB, RemoveSites: []string{f.siteA}})
	require.NoError(t, err)
	assert.Equal(t, f.siteB, *got.PrimarySiteID)
	assert.Equal(t, []string{f.siteB}, got.SiteIDs())
}

func TestUpdate_OwnerPromotionWithoutSitesChecksQuota(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{MaxOwners: dbtest.IntPtr(1)})
	ctx := context.Background()

	dbtest.User(t, f.db, "own", "OWNER", dbtest.UserOpts{})
	root := dbtest.User(t, f.db, "root2", "ADMIN", dbtest.UserOpts{})
	drifter := dbtest.User(t, f.db, "drifter", "MANAGER", dbtest.UserOpts{})

	_, err := f.svc.Update(ctx, as("root", models.RoleAdmin), root, UpdateInput{Role: strPtr("OWNER")})
	assert.Equal(t, "Owner quota reached", errors.Reason(err))

	_, err = f.svc.Update(ctx, as("root", models.RoleAdmin, f.siteA), drifter, UpdateInput{Role: strPtr("OWNER")})
	assert.Equal(t, "Owner quota reached", errors.Reason(err))

	assert.Equal(t, 1, dbtest.Count(t, f.db, `SELECT COUNT(*) FROM users WHERE role_id = 'OWNER'`))
}

func TestUpdate_RoleChangeWithoutPrimarySiteChargesMembershipTenants(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{MaxManagers: dbtest.IntPtr(1)})
	ctx := context.Background()

	f.member(t, "boss", "MANAGER", f.siteA)
	worker := dbtest.User(t, f.db, "worker", "USER", dbtest.UserOpts{})
	dbtest.Member(t, f.db, f.siteB, worker, false)

	_, err := f.svc.Update(ctx, as("root", models.RoleAdmin), worker, UpdateInput{Role: strPtr("MANAGER")})
	assert.Equal(t, "Manager quota reached", errors.Reason(err))
	assert.Equal(t, 1, dbtest.Count(t, f.db, `SELECT COUNT(*) FROM users WHERE role_id = 'MANAGER'`))

	loner := dbtest.User(t, f.db, "loner", "USER", dbtest.UserOpts{})
	got, err := f.svc.Update(ctx, as("root", models.RoleAdmin), loner, UpdateInput{Role: strPtr("MANAGER")})
	require.NoError(t, err)
	assert.Equal(t, "MANAGER", got.RoleID)
}

func TestUpdate_TeamMustBelongToPrimarySite(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{})
	ctx := context.Background()

	teamA := dbtest.Team(t, f.db, f.siteA, "Blue", nil)
	teamB := dbtest.Team(t, f.db, f.siteB, "Red", nil)
	worker := f.member(t, "worker", "USER", f.siteA)
	admin := as("admin", models.RoleAdmin)

	_, err := f.svc.Update(ctx, admin, worker, UpdateInput{TeamID: &teamB})
	assert.Equal(t, ReasonTeamOutsideSite, errors.Reason(err))

	got, err := f.svc.Update(ctx, admin, worker, UpdateInput{TeamID: &teamA})
	require.NoError(t, err)
	assert.Equal(t, teamA, *got.TeamID)

	got, err = f.svc.Update(ctx, admin, worker, UpdateInput{PrimarySiteID: &f.siteB})
	require.NoError(t, err)
	assert.Nil(t, got.TeamID, "moving sites drops a team from the old site")
}

func TestDelete(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{})
	ctx := context.Background()

	admin := f.member(t, "root", "ADMIN")
	mgr := f.member(t, "boss", "MANAGER", f.siteA)
	team := dbtest.Team(t, f.db, f.siteA, "Blue", &mgr)
	_, err := f.db.Exec(`INSERT INTO auth_tokens (id, type, user_id, token_hash, expires_at, meta, created_at) VALUES ('tok_1', 'RESET', ?, 'h', 0, '{}', 0)`, mgr)
	require.NoError(t, err)

	err = f.svc.Delete(ctx, as(admin, models.RoleAdmin), admin)
	assert.Equal(t, access.ReasonCannotDeleteSelf, errors.Reason(err))

	err = f.svc.Delete(ctx, as("owner", models.RoleOwner, f.siteA), admin)
	assert.Equal(t, access.ReasonOwnerCannotDeleteAdmin, errors.Reason(err))

	require.NoError(t, f.svc.Delete(ctx, as(admin, models.RoleAdmin), mgr))
	assert.Equal(t, 0, dbtest.Count(t, f.db, `SELECT COUNT(*) FROM users WHERE id = ?`, mgr))
	assert.Equal(t, 0, dbtest.Count(t, f.db, `SELECT COUNT(*) FROM site_memberships WHERE user_id = ?`, mgr))
	assert.Equal(t, 0, dbtest.Count(t, f.db, `SELECT COUNT(*) FROM auth_tokens WHERE user_id = ?`, mgr))
	assert.Equal(t, 1, dbtest.Count(t, f.db, `SELECT COUNT(*) FROM teams WHERE id = ? AND manager_id IS NULL`, team))

	err = f.svc.Delete(ctx, as(admin, models.RoleAdmin), mgr)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestStats(t *testing.T) {
	f := newFixture(t, dbtest.TenantOpts{MaxUsers: dbtest.IntPtr(10), MaxSites: dbtest.IntPtr(3)})
	ctx := context.Background()

	mgr := f.member(t, "boss", "MANAGER", f.siteA)
	f.member(t, "w1", "USER", f.siteA)
	f.member(t, "w2", "USER", f.siteA, f.siteB)

	stats, err := f.svc.Stats(ctx, as(mgr, models.RoleManager, f.siteA), "")
	require.NoError(t, err)
	assert.Equal(t, f.tenant, stats.TenantID)
	assert.Equal(t, 2, stats.Roles["USER"].Count)
	assert.Equal(t, 10, *stats.Roles["USER"].Limit)
	assert.Equal(t, 1, stats.Roles["MANAGER"].Count)
	assert.Nil(t, stats.Roles["MANAGER"].Limit)
	assert.Equal(t, 2, stats.Sites.Count)

	other := dbtest.Tenant(t, f.db, "Other", dbtest.TenantOpts{})
	_, err = f.svc.Stats(ctx, as(mgr, models.RoleManager, f.siteA), other)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	_, err = f.svc.Stats(ctx, as("u", models.RoleUser, f.siteA), "")
	assert.Equal(t, access.ReasonManagerOrAbove, errors.Reason(err))
}
