package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/platform/models"
)

type MembershipRepository struct {
	db sqlx.ExtContext
}

func NewMembershipRepository(db sqlx.ExtContext) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func (r *MembershipRepository) WithTx(tx *sqlx.Tx) *MembershipRepository {
	return &MembershipRepository{db: tx}
}

// Create inserts a membership; a duplicate (site, user) pair is a unique violation.
func (r *MembershipRepository) Create(ctx context.Context, siteID, userID string, isManager bool) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO site_memberships (id, site_id, user_id, is_manager, created_at) VALUES (?, ?, ?, ?, ?)
	`), newID("mbr"), siteID, userID, isManager, nowUnix())
	return err
}

// Upsert inserts the membership or refreshes its manager flag.
func (r *MembershipRepository) Upsert(ctx context.Context, siteID, userID string, isManager bool) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO site_memberships (id, site_id, user_id, is_manager, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (site_id, user_id) DO UPDATE SET is_manager = excluded.is_manager
	`), newID("mbr"), siteID, userID, isManager, nowUnix())
	return err
}

// EnsureExists inserts the membership unless it is already present.
func (r *MembershipRepository) EnsureExists(ctx context.Context, siteID, userID string, isManager bool) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO site_memberships (id, site_id, user_id, is_manager, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (site_id, user_id) DO NOTHING
	`), newID("mbr"), siteID, userID, isManager, nowUnix())
	return err
}

func (r *MembershipRepository) ListByUser(ctx context.Context, userID string) ([]models.SiteMembership, error) {
	memberships := []models.SiteMembership{}
	err := sqlx.SelectContext(ctx, r.db, &memberships, r.db.Rebind(`
		SELECT m.id, m.site_id, m.user_id, m.is_manager, m.created_at, s.name AS site_name, s.tenant_id
		FROM site_memberships m JOIN sites s ON s.id = m.site_id
		WHERE m.user_id = ?
		ORDER BY m.created_at, s.name
	`), userID)
	return memberships, err
}

// ListByUsers groups the memberships of several users by user id.
func (r *MembershipRepository) ListByUsers(ctx context.Context, userIDs []string) (map[string][]models.SiteMembership, error) {
	out := make(map[string][]models.SiteMembership, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT m.id, m.site_id, m.user_id, m.is_manager, m.created_at, s.name AS site_name, s.tenant_id
		FROM site_memberships m JOIN sites s ON s.id = m.site_id
		WHERE m.user_id IN (?)
		ORDER BY m.created_at, s.name
	`, userIDs)
	if err != nil {
		return nil, err
	}

	var rows []models.SiteMembership
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, m := range rows {
		out[m.UserID] = append(out[m.UserID], m)
	}
	return out, nil
}

func (r *MembershipRepository) Exists(ctx context.Context, siteID, userID string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`SELECT COUNT(*) FROM site_memberships WHERE site_id = ? AND user_id = ?`), siteID, userID)
	return n > 0, err
}

// IsUserInTenant reports whether the user already holds a membership in any
// site of the tenant.
func (r *MembershipRepository) IsUserInTenant(ctx context.Context, userID, tenantID string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM site_memberships m JOIN sites s ON s.id = m.site_id
		WHERE m.user_id = ? AND s.tenant_id = ?
	`), userID, tenantID)
	return n > 0, err
}

func (r *MembershipRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM site_memberships WHERE user_id = ?`), userID)
	return err
}

func (r *MembershipRepository) DeleteByUserAndSites(ctx context.Context, userID string, siteIDs []string) error {
	if len(siteIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM site_memberships WHERE user_id = ? AND site_id IN (?)`, userID, siteIDs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	return err
}

// SiteIDsByUser lists the sites the user belongs to.
func (r *MembershipRepository) SiteIDsByUser(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	err := sqlx.SelectContext(ctx, r.db, &ids, r.db.Rebind(`SELECT site_id FROM site_memberships WHERE user_id = ? ORDER BY created_at`), userID)
	return ids, err
}

// TenantIDsByUser lists the distinct tenants reached by the user's memberships.
func (r *MembershipRepository) TenantIDsByUser(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	err := sqlx.SelectContext(ctx, r.db, &ids, r.db.Rebind(`
		SELECT DISTINCT s.tenant_id FROM site_memberships m JOIN sites s ON s.id = m.site_id
		WHERE m.user_id = ? ORDER BY s.tenant_id
	`), userID)
	return ids, err
}
