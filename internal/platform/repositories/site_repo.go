package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/platform/models"
)

const siteColumns = `id, tenant_id, name, modules, created_at, updated_at`

type SiteRepository struct {
	db sqlx.ExtContext
}

func NewSiteRepository(db sqlx.ExtContext) *SiteRepository {
	return &SiteRepository{db: db}
}

func (r *SiteRepository) WithTx(tx *sqlx.Tx) *SiteRepository {
	return &SiteRepository{db: tx}
}

func (r *SiteRepository) Create(ctx context.Context, s *models.Site) error {
	if s.ID == "" {
		s.ID = newID("site")
	}
	now := nowUnix()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Modules == nil {
		s.Modules = models.Modules{}
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sites (`+siteColumns+`) VALUES (?, ?, ?, ?, ?, ?)
	`), s.ID, s.TenantID, s.Name, s.Modules, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *SiteRepository) GetByID(ctx context.Context, id string) (*models.Site, error) {
	s := &models.Site{}
	err := sqlx.GetContext(ctx, r.db, s, r.db.Rebind(`SELECT `+siteColumns+` FROM sites WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// GetByName finds a site by its globally unique name.
func (r *SiteRepository) GetByName(ctx context.Context, name string) (*models.Site, error) {
	s := &models.Site{}
	err := sqlx.GetContext(ctx, r.db, s, r.db.Rebind(`SELECT `+siteColumns+` FROM sites WHERE name = ?`), name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *SiteRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.Site, error) {
	sites := []models.Site{}
	err := sqlx.SelectContext(ctx, r.db, &sites, r.db.Rebind(`SELECT `+siteColumns+` FROM sites WHERE tenant_id = ? ORDER BY name`), tenantID)
	return sites, err
}

// Summaries lists sites with MANAGER and USER head counts. An empty
// memberOf lists every site; otherwise only sites the user belongs to.
func (r *SiteRepository) Summaries(ctx context.Context, memberOf string) ([]models.SiteSummary, error) {
	query := `
		SELECT s.id, s.tenant_id, s.name,
			(SELECT COUNT(*) FROM site_memberships m JOIN users u ON u.id = m.user_id
				WHERE m.site_id = s.id AND m.is_manager = ? AND u.role_id = 'MANAGER') AS managers_count,
			(SELECT COUNT(*) FROM site_memberships m JOIN users u ON u.id = m.user_id
				WHERE m.site_id = s.id AND u.role_id = 'USER') AS users_count
		FROM sites s`
	args := []interface{}{true}
	if memberOf != "" {
		query += ` WHERE EXISTS (SELECT 1 FROM site_memberships m WHERE m.site_id = s.id AND m.user_id = ?)`
		args = append(args, memberOf)
	}
	query += ` ORDER BY s.created_at DESC, s.name`

	sites := []models.SiteSummary{}
	err := sqlx.SelectContext(ctx, r.db, &sites, r.db.Rebind(query), args...)
	return sites, err
}

func (r *SiteRepository) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`SELECT COUNT(*) FROM sites WHERE tenant_id = ?`), tenantID)
	return n, err
}

func (r *SiteRepository) UpdateModules(ctx context.Context, id string, modules models.Modules) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE sites SET modules = ?, updated_at = ? WHERE id = ?`), modules, nowUnix(), id)
	return err
}

// Occupancy returns the number of teams and memberships still attached to
// the site. The membership of exceptUserID is not counted.
func (r *SiteRepository) Occupancy(ctx context.Context, id, exceptUserID string) (teams int, members int, err error) {
	if err = sqlx.GetContext(ctx, r.db, &teams, r.db.Rebind(`SELECT COUNT(*) FROM teams WHERE site_id = ?`), id); err != nil {
		return 0, 0, err
	}
	if err = sqlx.GetContext(ctx, r.db, &members, r.db.Rebind(`SELECT COUNT(*) FROM site_memberships WHERE site_id = ? AND user_id <> ?`), id, exceptUserID); err != nil {
		return 0, 0, err
	}
	return teams, members, nil
}

func (r *SiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM sites WHERE id = ?`), id)
	return err
}
