package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/platform/models"
)

const teamColumns = `id, site_id, name, manager_id, created_at, updated_at`

type TeamRepository struct {
	db sqlx.ExtContext
}

func NewTeamRepository(db sqlx.ExtContext) *TeamRepository {
	return &TeamRepository{db: db}
}

func (r *TeamRepository) WithTx(tx *sqlx.Tx) *TeamRepository {
	return &TeamRepository{db: tx}
}

func (r *TeamRepository) Create(ctx context.Context, t *models.Team) error {
	if t.ID == "" {
		t.ID = newID("team")
	}
	now := nowUnix()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO teams (`+teamColumns+`) VALUES (?, ?, ?, ?, ?, ?)
	`), t.ID, t.SiteID, t.Name, t.ManagerID, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *TeamRepository) GetByID(ctx context.Context, id string) (*models.Team, error) {
	t := &models.Team{}
	err := sqlx.GetContext(ctx, r.db, t, r.db.Rebind(`SELECT `+teamColumns+` FROM teams WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *TeamRepository) ListBySite(ctx context.Context, siteID string) ([]models.TeamSummary, error) {
	teams := []models.TeamSummary{}
	err := sqlx.SelectContext(ctx, r.db, &teams, r.db.Rebind(`
		SELECT t.id, t.site_id, t.name, t.manager_id, t.created_at, t.updated_at,
			mgr.username AS manager_username,
			(SELECT COUNT(*) FROM users u WHERE u.team_id = t.id) AS members_count
		FROM teams t
		LEFT JOIN users mgr ON mgr.id = t.manager_id
		WHERE t.site_id = ?
		ORDER BY t.name
	`), siteID)
	return teams, err
}

func (r *TeamRepository) Update(ctx context.Context, t *models.Team) error {
	t.UpdatedAt = nowUnix()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE teams SET name = ?, manager_id = ?, updated_at = ? WHERE id = ?`),
		t.Name, t.ManagerID, t.UpdatedAt, t.ID)
	return err
}

// ClearManager detaches userID from every team they manage.
func (r *TeamRepository) ClearManager(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE teams SET manager_id = NULL, updated_at = ? WHERE manager_id = ?`), nowUnix(), userID)
	return err
}

func (r *TeamRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM teams WHERE id = ?`), id)
	return err
}
