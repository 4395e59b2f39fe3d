package access

import "taskflow/internal/platform/models"

const (
	ReasonOnlyAdminCreatesAdmin  = "Only ADMIN can create ADMIN"
	ReasonManagerCreatesUser     = "Manager can only create USER"
	ReasonOwnerCannotSetAdmin    = "Owner cannot set ADMIN"
	ReasonManagerSetsUser        = "Manager can only set USER"
	ReasonOwnerCannotEditAdmin   = "Owner cannot edit ADMIN"
	ReasonManagerEditsUser       = "Manager can only edit USER"
	ReasonOwnerCannotDeleteAdmin = "Owner cannot delete ADMIN"
	ReasonManagerDeletesUser     = "Manager can only delete USER"
	ReasonCannotDeleteSelf       = "Cannot delete yourself"
	ReasonForeignMembership      = "Cannot change membership for a site you do not belong to"
)

// Target is the user an edit, delete or view acts on.
type Target struct {
	ID      string
	Role    models.Role
	SiteIDs []string
}

// CanCreate checks whether p may create a user holding role. Scope is
// checked separately by ScopedToSite on the destination site.
func CanCreate(p *Principal, role models.Role) error {
	switch {
	case p.IsAdmin():
		return nil
	case p.IsOwner():
		if role == models.RoleAdmin {
			return deny("create", ReasonOnlyAdminCreatesAdmin)
		}
		return nil
	case p.IsExactly(models.RoleManager):
		if role != models.RoleUser {
			return deny("create", ReasonManagerCreatesUser)
		}
		return nil
	}
	return deny("create", ReasonForbidden)
}

// CanEdit checks whether p may edit target and, when nextRole is non-nil,
// assign it. Non-admins must share a site with the target.
func CanEdit(p *Principal, target Target, nextRole *models.Role) error {
	if p.IsAdmin() {
		return nil
	}

	switch {
	case p.IsOwner():
		if target.Role == models.RoleAdmin {
			return deny("edit", ReasonOwnerCannotEditAdmin)
		}
	case p.IsExactly(models.RoleManager):
		if target.Role != models.RoleUser {
			return deny("edit", ReasonManagerEditsUser)
		}
	default:
		return deny("edit", ReasonForbidden)
	}

	if !p.SharesSiteWith(target.SiteIDs) {
		return deny("edit", ReasonForbidden)
	}

	if nextRole != nil {
		if p.IsOwner() && *nextRole == models.RoleAdmin {
			return deny("edit", ReasonOwnerCannotSetAdmin)
		}
		if p.IsExactly(models.RoleManager) && *nextRole != models.RoleUser {
			return deny("edit", ReasonManagerSetsUser)
		}
	}
	return nil
}

// CanDelete checks whether p may delete target. Deleting oneself is always
// refused, ADMIN included.
func CanDelete(p *Principal, target Target) error {
	if target.ID != "" && target.ID == p.ID() {
		return deny("delete", ReasonCannotDeleteSelf)
	}

	switch {
	case p.IsAdmin():
		return nil
	case p.IsOwner():
		if target.Role == models.RoleAdmin {
			return deny("delete", ReasonOwnerCannotDeleteAdmin)
		}
	case p.IsExactly(models.RoleManager):
		if target.Role != models.RoleUser {
			return deny("delete", ReasonManagerDeletesUser)
		}
	default:
		return deny("delete", ReasonForbidden)
	}

	if !p.SharesSiteWith(target.SiteIDs) {
		return deny("delete", ReasonForbidden)
	}
	return nil
}

// CanView hides ADMIN accounts from everyone but ADMIN. Below OWNER the
// target must be the principal or share one of their sites.
func CanView(p *Principal, target Target) error {
	if p.IsAdmin() {
		return nil
	}
	if target.Role == models.RoleAdmin {
		return deny("view", ReasonForbidden)
	}
	if p.IsOwner() || target.ID == p.ID() || p.SharesSiteWith(target.SiteIDs) {
		return nil
	}
	return deny("view", ReasonForbidden)
}

// CanChangeMemberships requires non-admins to belong to every site they add
// or remove.
func CanChangeMemberships(p *Principal, add, remove []string) error {
	if p.IsAdmin() {
		return nil
	}
	for _, ids := range [][]string{add, remove} {
		for _, id := range ids {
			if !p.MemberOf(id) {
				return deny("memberships", ReasonForeignMembership)
			}
		}
	}
	return nil
}
