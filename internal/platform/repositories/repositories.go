package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"taskflow/internal/platform/models"
)

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func nowUnix() int64 {
	return time.Now().Unix()
}

const userColumns = `
	u.id, u.username, u.email, u.first_name, u.last_name, u.role_id, u.password_hash,
	u.is_active, u.must_change_pwd, u.primary_site_id, u.team_id, u.token_version,
	u.last_login_at, u.created_at, u.updated_at,
	r.name AS role_name, r.is_admin AS role_is_admin, r.is_owner AS role_is_owner, r.is_manager AS role_is_manager`

type UserRepository struct {
	db sqlx.ExtContext
}

func NewUserRepository(db sqlx.ExtContext) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *UserRepository) WithTx(tx *sqlx.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = newID("usr")
	}
	now := nowUnix()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO users (id, username, email, first_name, last_name, role_id, password_hash, is_active, must_change_pwd, primary_site_id, team_id, token_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), user.ID, user.Username, user.Email, user.FirstName, user.LastName, user.RoleID, user.PasswordHash,
		user.IsActive, user.MustChangePwd, user.PrimarySiteID, user.TeamID, user.TokenVersion, user.CreatedAt, user.UpdatedAt)
	return err
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	user := &models.User{}
	err := sqlx.GetContext(ctx, r.db, user, r.db.Rebind(`
		SELECT `+userColumns+`
		FROM users u JOIN roles r ON r.id = u.role_id
		WHERE `+where), arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, "u.id = ?", id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, "u.username = ?", username)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "LOWER(u.email) = ?", strings.ToLower(email))
}

// UserFilter narrows List. RestrictToSites with no SiteIDs matches nobody.
type UserFilter struct {
	ExcludeRoles    []string
	RestrictToSites bool
	SiteIDs         []string
}

func (r *UserRepository) List(ctx context.Context, f UserFilter) ([]models.User, error) {
	if f.RestrictToSites && len(f.SiteIDs) == 0 {
		return []models.User{}, nil
	}

	query := `SELECT ` + userColumns + ` FROM users u JOIN roles r ON r.id = u.role_id WHERE 1=1`
	var args []interface{}

	if len(f.ExcludeRoles) > 0 {
		query += ` AND u.role_id NOT IN (?)`
		args = append(args, f.ExcludeRoles)
	}
	if f.RestrictToSites {
		query += ` AND EXISTS (SELECT 1 FROM site_memberships m WHERE m.user_id = u.id AND m.site_id IN (?))`
		args = append(args, f.SiteIDs)
	}
	query += ` ORDER BY u.created_at DESC, u.username`

	if len(args) > 0 {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, err
		}
	}

	users := []models.User{}
	if err := sqlx.SelectContext(ctx, r.db, &users, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return users, nil
}

// Update writes the mutable profile, role, activation and placement columns.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = nowUnix()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET username = ?, email = ?, first_name = ?, last_name = ?, role_id = ?,
			is_active = ?, primary_site_id = ?, team_id = ?, updated_at = ?
		WHERE id = ?
	`), user.Username, user.Email, user.FirstName, user.LastName, user.RoleID,
		user.IsActive, user.PrimarySiteID, user.TeamID, user.UpdatedAt, user.ID)
	return err
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, timestamp int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET last_login_at = ? WHERE id = ?`), timestamp, userID)
	return err
}

// SetPassword stores a new hash, activates the account, clears the
// change-password flag and rotates the token version.
func (r *UserRepository) SetPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET password_hash = ?, is_active = ?, must_change_pwd = ?, token_version = token_version + 1, updated_at = ?
		WHERE id = ?
	`), passwordHash, true, false, nowUnix(), userID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// IncrementTokenVersion invalidates every session issued to the user.
func (r *UserRepository) IncrementTokenVersion(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET token_version = token_version + 1, updated_at = ? WHERE id = ?
	`), nowUnix(), userID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *UserRepository) ClearPlacement(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET team_id = NULL, primary_site_id = NULL, updated_at = ? WHERE id = ?`), nowUnix(), userID)
	return err
}

// ClearPrimarySite unsets the user's primary site when it is siteID.
func (r *UserRepository) ClearPrimarySite(ctx context.Context, userID, siteID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET primary_site_id = NULL, updated_at = ? WHERE id = ? AND primary_site_id = ?`), nowUnix(), userID, siteID)
	return err
}

func (r *UserRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM users WHERE id = ?`), userID)
	return err
}

// CountByRole counts every user holding role.
func (r *UserRepository) CountByRole(ctx context.Context, role string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`SELECT COUNT(*) FROM users WHERE role_id = ?`), role)
	return n, err
}

// CountByRoleInTenant counts users holding role with at least one membership
// in a site of the tenant.
func (r *UserRepository) CountByRoleInTenant(ctx context.Context, tenantID, role string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`
		SELECT COUNT(DISTINCT u.id)
		FROM users u
		JOIN site_memberships m ON m.user_id = u.id
		JOIN sites s ON s.id = m.site_id
		WHERE s.tenant_id = ? AND u.role_id = ?
	`), tenantID, role)
	return n, err
}

// CountInTeam counts users assigned to the team.
func (r *UserRepository) CountInTeam(ctx context.Context, teamID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`SELECT COUNT(*) FROM users WHERE team_id = ?`), teamID)
	return n, err
}

// ErrNoRowsAffected is returned by writes that expected to touch one row.
var ErrNoRowsAffected = errors.New("no rows affected")

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRowsAffected
	}
	return nil
}
