package access

import (
	"taskflow/internal/pkg/errors"
	"taskflow/internal/platform/metrics"
)

const (
	ReasonAdminOnly      = "Admin only"
	ReasonOwnerAdminOnly = "Owner/Admin only"
	ReasonManagerOrAbove = "Manager/Owner/Admin only"
	ReasonWrongSiteScope = "Wrong site scope"
	ReasonMissingSiteID  = "Missing siteId"
	ReasonForbidden      = "Forbidden"
)

func deny(guard, reason string) error {
	metrics.GuardDenials.WithLabelValues(guard).Inc()
	return errors.Forbidden(reason)
}

func RequireAdmin(p *Principal) error {
	if p.IsAdmin() {
		return nil
	}
	return deny("admin", ReasonAdminOnly)
}

func RequireAdminOrOwner(p *Principal) error {
	if p.IsAdminOrOwner() {
		return nil
	}
	return deny("admin_or_owner", ReasonOwnerAdminOnly)
}

func RequireManagerOrAbove(p *Principal) error {
	if p.IsManagerOrAbove() {
		return nil
	}
	return deny("manager_or_above", ReasonManagerOrAbove)
}

// ScopedToSite lets ADMIN and OWNER through unconditionally; everyone else
// must be a member of siteID.
func ScopedToSite(p *Principal, siteID string) error {
	if p.IsAdminOrOwner() {
		return nil
	}
	if siteID == "" {
		return errors.InvalidInput(ReasonMissingSiteID)
	}
	if !p.MemberOf(siteID) {
		return deny("site_scope", ReasonWrongSiteScope)
	}
	return nil
}

// ResolveSiteTarget picks the site a request acts on: path, then body, then
// query, then the principal's primary site.
func ResolveSiteTarget(path, body, query, primary string) string {
	for _, v := range []string{path, body, query, primary} {
		if v != "" {
			return v
		}
	}
	return ""
}
