package access

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/platform/models"
)

func principal(role models.Role, sites ...string) *Principal {
	primary := ""
	if len(sites) > 0 {
		primary = sites[0]
	}
	return NewPrincipal(PrincipalInput{
		ID:            "usr_" + role.Name,
		Username:      role.Name,
		Role:          role,
		PrimarySiteID: primary,
		SiteIDs:       sites,
	})
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	return errors.Reason(err)
}

func TestMatrix_AllCombinations(t *testing.T) {
	// expected[op][actor][target] is "" for Allow, else the Forbidden reason.
	expected := map[string]map[string]map[string]string{
		"create": {
			"ADMIN":   {"ADMIN": "", "OWNER": "", "MANAGER": "", "USER": ""},
			"OWNER":   {"ADMIN": ReasonOnlyAdminCreatesAdmin, "OWNER": "", "MANAGER": "", "USER": ""},
			"MANAGER": {"ADMIN": ReasonManagerCreatesUser, "OWNER": ReasonManagerCreatesUser, "MANAGER": ReasonManagerCreatesUser, "USER": ""},
			"USER":    {"ADMIN": ReasonForbidden, "OWNER": ReasonForbidden, "MANAGER": ReasonForbidden, "USER": ReasonForbidden},
		},
		"edit": {
			"ADMIN":   {"ADMIN": "", "OWNER": "", "MANAGER": "", "USER": ""},
			"OWNER":   {"ADMIN": ReasonOwnerCannotSetAdmin, "OWNER": "", "MANAGER": "", "USER": ""},
			"MANAGER": {"ADMIN": ReasonManagerSetsUser, "OWNER": ReasonManagerSetsUser, "MANAGER": ReasonManagerSetsUser, "USER": ""},
			"USER":    {"ADMIN": ReasonForbidden, "OWNER": ReasonForbidden, "MANAGER": ReasonForbidden, "USER": ReasonForbidden},
		},
		"delete": {
			"ADMIN":   {"ADMIN": "", "OWNER": "", "MANAGER": "", "USER": ""},
			"OWNER":   {"ADMIN": ReasonOwnerCannotDeleteAdmin, "OWNER": "", "MANAGER": "", "USER": ""},
			"MANAGER": {"ADMIN": ReasonManagerDeletesUser, "OWNER": ReasonManagerDeletesUser, "MANAGER": ReasonManagerDeletesUser, "USER": ""},
			"USER":    {"ADMIN": ReasonForbidden, "OWNER": ReasonForbidden, "MANAGER": ReasonForbidden, "USER": ReasonForbidden},
		},
	}

	for _, op := range []string{"create", "edit", "delete"} {
		for _, actor := range models.Roles {
			for _, target := range models.Roles {
				name := fmt.Sprintf("%s/%s->%s", op, actor.Name, target.Name)
				t.Run(name, func(t *testing.T) {
					p := principal(actor, "site_a")

					var err error
					switch op {
					case "create":
						err = CanCreate(p, target)
					case "edit":
						// An existing USER sharing the site is given role target.
						next := target
						err = CanEdit(p, Target{ID: "usr_target", Role: models.RoleUser, SiteIDs: []string{"site_a"}}, &next)
					case "delete":
						err = CanDelete(p, Target{ID: "usr_target", Role: target, SiteIDs: []string{"site_a"}})
					}

					want := expected[op][actor.Name][target.Name]
					if want == "" {
						assert.NoError(t, err)
						return
					}
					require.Error(t, err)
					assert.True(t, errors.Is(err, errors.ErrForbidden))
					assert.Equal(t, want, reason(err))
				})
			}
		}
	}
}

func TestCanDelete_SelfAlwaysRefused(t *testing.T) {
	for _, role := range models.Roles {
		p := principal(role, "site_a")
		err := CanDelete(p, Target{ID: p.ID(), Role: role, SiteIDs: []string{"site_a"}})
		assert.Equal(t, ReasonCannotDeleteSelf, reason(err), role.Name)
	}
}

func TestCanEdit_TargetRoleAndScope(t *testing.T) {
	owner := principal(models.RoleOwner, "site_a")
	manager := principal(models.RoleManager, "site_a")

	err := CanEdit(owner, Target{ID: "x", Role: models.RoleAdmin, SiteIDs: []string{"site_a"}}, nil)
	assert.Equal(t, ReasonOwnerCannotEditAdmin, reason(err))

	err = CanEdit(manager, Target{ID: "x", Role: models.RoleManager, SiteIDs: []string{"site_a"}}, nil)
	assert.Equal(t, ReasonManagerEditsUser, reason(err))

	err = CanEdit(manager, Target{ID: "x", Role: models.RoleUser, SiteIDs: []string{"site_b"}}, nil)
	assert.Equal(t, ReasonForbidden, reason(err))

	err = CanEdit(owner, Target{ID: "x", Role: models.RoleUser}, nil)
	assert.Equal(t, ReasonForbidden, reason(err), "owner must share a site with the target")

	admin := principal(models.RoleAdmin)
	assert.NoError(t, CanEdit(admin, Target{ID: "x", Role: models.RoleAdmin}, &models.RoleOwner))
}

func TestCanDelete_RequiresSharedSite(t *testing.T) {
	manager := principal(models.RoleManager, "site_a")
	err := CanDelete(manager, Target{ID: "x", Role: models.RoleUser, SiteIDs: []string{"site_b"}})
	assert.Equal(t, ReasonForbidden, reason(err))

	admin := principal(models.RoleAdmin)
	assert.NoError(t, CanDelete(admin, Target{ID: "x", Role: models.RoleAdmin}))
}

func TestCanView(t *testing.T) {
	assert.NoError(t, CanView(principal(models.RoleAdmin), Target{ID: "a", Role: models.RoleAdmin}))
	assert.NoError(t, CanView(principal(models.RoleOwner), Target{ID: "m", Role: models.RoleManager}))
	assert.Error(t, CanView(principal(models.RoleOwner), Target{ID: "a", Role: models.RoleAdmin}))

	manager := principal(models.RoleManager, "s")
	assert.Error(t, CanView(manager, Target{ID: "a", Role: models.RoleAdmin, SiteIDs: []string{"s"}}))
	assert.NoError(t, CanView(manager, Target{ID: "u", Role: models.RoleUser, SiteIDs: []string{"s"}}))
	assert.NoError(t, CanView(manager, Target{ID: manager.ID(), Role: models.RoleManager}))

	err := CanView(manager, Target{ID: "u", Role: models.RoleUser, SiteIDs: []string{"other"}})
	assert.Equal(t, ReasonForbidden, reason(err))
}

func TestCanChangeMemberships(t *testing.T) {
	owner := principal(models.RoleOwner, "site_a", "site_b")

	assert.NoError(t, CanChangeMemberships(owner, []string{"site_a"}, []string{"site_b"}))

	err := CanChangeMemberships(owner, []string{"site_c"}, nil)
	assert.Equal(t, ReasonForeignMembership, reason(err))

	err = CanChangeMemberships(owner, nil, []string{"site_c"})
	assert.Equal(t, ReasonForeignMembership, reason(err))

	assert.NoError(t, CanChangeMemberships(principal(models.RoleAdmin), []string{"anything"}, nil))
}

func TestGuards(t *testing.T) {
	tests := []struct {
		name  string
		guard func(*Principal) error
		allow []models.Role
		msg   string
	}{
		{"RequireAdmin", RequireAdmin, []models.Role{models.RoleAdmin}, ReasonAdminOnly},
		{"RequireAdminOrOwner", RequireAdminOrOwner, []models.Role{models.RoleAdmin, models.RoleOwner}, ReasonOwnerAdminOnly},
		{"RequireManagerOrAbove", RequireManagerOrAbove, []models.Role{models.RoleAdmin, models.RoleOwner, models.RoleManager}, ReasonManagerOrAbove},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, role := range models.Roles {
				err := tt.guard(principal(role))
				allowed := false
				for _, a := range tt.allow {
					if a == role {
						allowed = true
					}
				}
				if allowed {
					assert.NoError(t, err, role.Name)
				} else {
					assert.Equal(t, tt.msg, reason(err), role.Name)
				}
			}
		})
	}
}

func TestScopedToSite(t *testing.T) {
	assert.NoError(t, ScopedToSite(principal(models.RoleAdmin), ""))
	assert.NoError(t, ScopedToSite(principal(models.RoleOwner), "site_z"))

	manager := principal(models.RoleManager, "site_a")
	assert.NoError(t, ScopedToSite(manager, "site_a"))

	err := ScopedToSite(manager, "site_b")
	assert.Equal(t, ReasonWrongSiteScope, reason(err))
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	err = ScopedToSite(principal(models.RoleUser), "")
	assert.Equal(t, ReasonMissingSiteID, reason(err))
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestResolveSiteTarget_Precedence(t *testing.T) {
	assert.Equal(t, "path", ResolveSiteTarget("path", "body", "query", "primary"))
	assert.Equal(t, "body", ResolveSiteTarget("", "body", "query", "primary"))
	assert.Equal(t, "query", ResolveSiteTarget("", "", "query", "primary"))
	assert.Equal(t, "primary", ResolveSiteTarget("", "", "", "primary"))
	assert.Equal(t, "", ResolveSiteTarget("", "", "", ""))
}

func TestPrincipal_IsImmutableSnapshot(t *testing.T) {
	sites := []string{"site_a"}
	p := NewPrincipal(PrincipalInput{ID: "u", Role: models.RoleManager, SiteIDs: sites})

	sites[0] = "site_b"
	assert.True(t, p.MemberOf("site_a"))

	got := p.SiteIDs()
	got[0] = "site_c"
	assert.Equal(t, []string{"site_a"}, p.SiteIDs())

	assert.True(t, p.IsManagerOrAbove())
	assert.False(t, p.IsAdminOrOwner())
	assert.True(t, p.IsExactly(models.RoleManager))
}
