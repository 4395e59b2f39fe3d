package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/platform/models"
)

const tenantColumns = `id, name, max_sites, max_owners, max_managers, max_users, available_modules, created_at, updated_at`

type TenantRepository struct {
	db sqlx.ExtContext
}

func NewTenantRepository(db sqlx.ExtContext) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) WithTx(tx *sqlx.Tx) *TenantRepository {
	return &TenantRepository{db: tx}
}

func (r *TenantRepository) Create(ctx context.Context, t *models.Tenant) error {
	if t.ID == "" {
		t.ID = newID("tnt")
	}
	now := nowUnix()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.AvailableModules == nil {
		t.AvailableModules = models.Modules{}
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.ID, t.Name, t.MaxSites, t.MaxOwners, t.MaxManagers, t.MaxUsers, t.AvailableModules, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *TenantRepository) get(ctx context.Context, where string, arg interface{}) (*models.Tenant, error) {
	t := &models.Tenant{}
	err := sqlx.GetContext(ctx, r.db, t, r.db.Rebind(`SELECT `+tenantColumns+` FROM tenants WHERE `+where), arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *TenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	return r.get(ctx, "id = ?", id)
}

func (r *TenantRepository) GetByName(ctx context.Context, name string) (*models.Tenant, error) {
	return r.get(ctx, "name = ?", name)
}

// GetBySite returns the tenant owning siteID.
func (r *TenantRepository) GetBySite(ctx context.Context, siteID string) (*models.Tenant, error) {
	return r.get(ctx, "id = (SELECT tenant_id FROM sites WHERE id = ?)", siteID)
}

func (r *TenantRepository) List(ctx context.Context) ([]models.Tenant, error) {
	tenants := []models.Tenant{}
	err := sqlx.SelectContext(ctx, r.db, &tenants, `SELECT `+tenantColumns+` FROM tenants ORDER BY name`)
	return tenants, err
}

func (r *TenantRepository) Update(ctx context.Context, t *models.Tenant) error {
	t.UpdatedAt = nowUnix()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE tenants SET name = ?, max_sites = ?, max_owners = ?, max_managers = ?, max_users = ?, available_modules = ?, updated_at = ?
		WHERE id = ?
	`), t.Name, t.MaxSites, t.MaxOwners, t.MaxManagers, t.MaxUsers, t.AvailableModules, t.UpdatedAt, t.ID)
	return err
}
