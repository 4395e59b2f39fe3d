// Package access decides whether a resolved principal may perform an
// operation. Every check is a pure function of the Principal and the target;
// nothing here touches storage.
package access

import "taskflow/internal/platform/models"

// Principal is the trusted identity snapshot of one request. It is produced
// once by the identity resolver and never mutated afterwards.
type Principal struct {
	id            string
	username      string
	role          models.Role
	primarySiteID string
	siteIDs       []string
	tokenVersion  int
}

type PrincipalInput struct {
	ID            string
	Username      string
	Role          models.Role
	PrimarySiteID string
	SiteIDs       []string
	TokenVersion  int
}

func NewPrincipal(in PrincipalInput) *Principal {
	sites := make([]string, len(in.SiteIDs))
	copy(sites, in.SiteIDs)
	return &Principal{
		id:            in.ID,
		username:      in.Username,
		role:          in.Role,
		primarySiteID: in.PrimarySiteID,
		siteIDs:       sites,
		tokenVersion:  in.TokenVersion,
	}
}

func (p *Principal) ID() string            { return p.id }
func (p *Principal) Username() string      { return p.username }
func (p *Principal) Role() models.Role     { return p.role }
func (p *Principal) PrimarySiteID() string { return p.primarySiteID }
func (p *Principal) TokenVersion() int     { return p.tokenVersion }

// SiteIDs returns a copy of the membership site ids.
func (p *Principal) SiteIDs() []string {
	out := make([]string, len(p.siteIDs))
	copy(out, p.siteIDs)
	return out
}

func (p *Principal) IsAdmin() bool { return p.role.IsAdmin }
func (p *Principal) IsOwner() bool { return p.role.IsOwner }

func (p *Principal) IsAdminOrOwner() bool {
	return p.role.IsAdmin || p.role.IsOwner
}

// IsManagerOrAbove is true for MANAGER, OWNER and ADMIN.
func (p *Principal) IsManagerOrAbove() bool {
	return p.role.IsAdmin || p.role.IsOwner || p.role.IsManager
}

func (p *Principal) IsExactly(role models.Role) bool {
	return p.role == role
}

func (p *Principal) MemberOf(siteID string) bool {
	for _, id := range p.siteIDs {
		if id == siteID {
			return true
		}
	}
	return false
}

// SharesSiteWith reports whether any of siteIDs is one of the principal's sites.
func (p *Principal) SharesSiteWith(siteIDs []string) bool {
	for _, id := range siteIDs {
		if p.MemberOf(id) {
			return true
		}
	}
	return false
}
