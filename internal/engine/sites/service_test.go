package sites

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"taskflow/internal/engine/access"
	"taskflow/internal/engine/quota"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/platform/database/dbtest"
	"taskflow/internal/platform/models"
)

func setup(t *testing.T) (*sqlx.DB, *Service) {
	t.Helper()
	db := dbtest.Open(t)
	return db, NewService(db, quota.NewLedger(db), nil)
}

func as(id string, role models.Role, sites ...string) *access.Principal {
	return access.NewPrincipal(access.PrincipalInput{ID: id, Role: role, SiteIDs: sites})
}

func TestCreate(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()

	tenant := dbtest.Tenant(t, db, "Acme", dbtest.TenantOpts{MaxSites: dbtest.IntPtr(1), Modules: `{"inventory":true,"billing":false}`})
	owner := dbtest.User(t, db, "own", "OWNER", dbtest.UserOpts{})

	site, err := svc.Create(ctx, as(owner, models.RoleOwner), tenant, "  Warehouse ")
	require.NoError(t, err)
	assert.Equal(t, "Warehouse", site.Name)
	assert.Equal(t, models.Modules{"inventory": true, "billing": false}, site.Modules)
	assert.Equal(t, 1, dbtest.Count(t, db, `SELECT COUNT(*) FROM site_memberships WHERE site_id = ? AND user_id = ? AND is_manager = ?`, site.ID, owner, true))

	_, err = svc.Create(ctx, as(owner, models.RoleOwner), tenant, "Second")
	assert.Equal(t, "Site quota reached", errors.Reason(err))
	assert.Equal(t, 1, dbtest.Count(t, db, `SELECT COUNT(*) FROM sites`))
}

func TestCreate_Rejections(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()

	tenant := dbtest.Tenant(t, db, "Acme", dbtest.TenantOpts{})
	dbtest.Site(t, db, tenant, "Taken")
	admin := dbtest.User(t, db, "root", "ADMIN", dbtest.UserOpts{})

	_, err := svc.Create(ctx, as("m", models.RoleManager), tenant, "X")
	assert.Equal(t, access.ReasonOwnerAdminOnly, errors.Reason(err))

	_, err = svc.Create(ctx, as(admin, models.RoleAdmin), "tnt_missing", "X")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = svc.Create(ctx, as(admin, models.RoleAdmin), tenant, "Taken")
	assert.True(t, errors.Is(err, errors.Conflict(ReasonDuplicateSite)))
}

func TestList_AdminSeesAllOthersTheirOwn(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()

	tenant := dbtest.Tenant(t, db, "Acme", dbtest.TenantOpts{})
	a := dbtest.Site(t, db, tenant, "A")
	dbtest.Site(t, db, tenant, "B")

	mgr := dbtest.User(t, db, "boss", "MANAGER", dbtest.UserOpts{PrimarySiteID: &a})
	dbtest.Member(t, db, a, mgr, true)
	worker := dbtest.User(t, db, "worker", "USER", dbtest.UserOpts{PrimarySiteID: &a})
	dbtest.Member(t, db, a, worker, false)

	all, err := svc.List(ctx, as("admin", models.RoleAdmin))
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := svc.List(ctx, as(mgr, models.RoleManager, a))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "A", mine[0].Name)
	assert.Equal(t, 1, mine[0].ManagersCount)
	assert.Equal(t, 1, mine[0].UsersCount)
}

func TestGet(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()

	tenant := dbtest.Tenant(t, db, "Acme", dbtest.TenantOpts{})
	a := dbtest.Site(t, db, tenant, "A")
	b := dbtest.Site(t, db, tenant, "B")

	_, err := svc.Get(ctx, as("m", models.RoleManager, a), b)
	assert.Equal(t, access.ReasonWrongSiteScope, errors.Reason(err))

	site, err := svc.Get(ctx, as("m", models.RoleManager, a), a)
	require.NoError(t, err)
	assert.Equal(t, "A", site.Name)

	_, err = svc.Get(ctx, as("admin", models.RoleAdmin), "site_missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestUpdateModules(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()

	tenant := dbtest.Tenant(t, db, "Acme", dbtest.TenantOpts{Modules: `{"inventory":true}`})
	site := dbtest.Site(t, db, tenant, "A")
	admin := as("admin", models.RoleAdmin)

	_, err := svc.UpdateModules(ctx, as("o", models.RoleOwner), site, models.Modules{"inventory": true})
	assert.Equal(t, access.ReasonAdminOnly, errors.Reason(err))

	_, err = svc.UpdateModules(ctx, admin, site, models.Modules{"payroll": true})
	assert.Equal(t, "Module not available for tenant: payroll", errors.Reason(err))

	got, err := svc.UpdateModules(ctx, admin, site, models.Modules{"inventory": false})
	require.NoError(t, err)
	assert.Equal(t, models.Modules{"inventory": false}, got.Modules)
}

func TestDelete_RefusesNonEmptySite(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()

	tenant := dbtest.Tenant(t, db, "Acme", dbtest.TenantOpts{})
	site := dbtest.Site(t, db, tenant, "A")
	team := dbtest.Team(t, db, site, "Blue", nil)
	admin := as("admin", models.RoleAdmin)

	err := svc.Delete(ctx, admin, site)
	assert.True(t, errors.Is(err, errors.Conflict(ReasonSiteNotEmpty)))
	assert.Equal(t, 1, dbtest.Count(t, db, `SELECT COUNT(*) FROM sites WHERE id = ?`, site))
	assert.Equal(t, 1, dbtest.Count(t, db, `SELECT COUNT(*) FROM teams WHERE id = ? AND site_id = ?`, team, site))

	_, err = db.Exec(`DELETE FROM teams WHERE id = ?`, team)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, admin, site))
	assert.Equal(t, 0, dbtest.Count(t, db, `SELECT COUNT(*) FROM sites WHERE id = ?`, site))
}

func TestDelete_CreatorMembershipDoesNotBlock(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()

	tenant := dbtest.Tenant(t, db, "Acme", dbtest.TenantOpts{})
	owner := dbtest.User(t, db, "own", "OWNER", dbtest.UserOpts{})
	p := as(owner, models.RoleOwner)

	site, err := svc.Create(ctx, p, tenant, "Fresh")
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE users SET primary_site_id = ? WHERE id = ?`, site.ID, owner)
	require.NoError(t, err)

	worker := dbtest.User(t, db, "worker", "USER", dbtest.UserOpts{})
	dbtest.Member(t, db, site.ID, worker, false)
	err = svc.Delete(ctx, p, site.ID)
	assert.True(t, errors.Is(err, errors.Conflict(ReasonSiteNotEmpty)))

	_, err = db.Exec(`DELETE FROM site_memberships WHERE user_id = ?`, worker)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, p, site.ID))
	assert.Equal(t, 0, dbtest.Count(t, db, `SELECT COUNT(*) FROM sites WHERE id = ?`, site.ID))
	assert.Equal(t, 0, dbtest.Count(t, db, `SELECT COUNT(*) FROM site_memberships WHERE site_id = ?`, site.ID))
	assert.Equal(t, 0, dbtest.Count(t, db, `SELECT COUNT(*) FROM users WHERE id = ? AND primary_site_id IS NOT NULL`, owner))
}

func TestDelete_Guards(t *testing.T) {
	db, svc := setup(t)
	ctx := context.Background()

	tenant := dbtest.Tenant(t, db, "Acme", dbtest.TenantOpts{})
	site := dbtest.Site(t, db, tenant, "A")

	err := svc.Delete(ctx, as("m", models.RoleManager, site), site)
	assert.Equal(t, access.ReasonOwnerAdminOnly, errors.Reason(err))

	err = svc.Delete(ctx, as("admin", models.RoleAdmin), "site_missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
