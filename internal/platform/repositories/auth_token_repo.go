package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/platform/models"
)

const authTokenColumns = `id, type, user_id, token_hash, expires_at, used_at, meta, created_at`

type AuthTokenRepository struct {
	db sqlx.ExtContext
}

func NewAuthTokenRepository(db sqlx.ExtContext) *AuthTokenRepository {
	return &AuthTokenRepository{db: db}
}

func (r *AuthTokenRepository) WithTx(tx *sqlx.Tx) *AuthTokenRepository {
	return &AuthTokenRepository{db: tx}
}

func (r *AuthTokenRepository) Create(ctx context.Context, tok *models.AuthToken) error {
	if tok.ID == "" {
		tok.ID = newID("tok")
	}
	if tok.CreatedAt == 0 {
		tok.CreatedAt = nowUnix()
	}
	if tok.Meta == nil {
		tok.Meta = models.Meta{}
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO auth_tokens (`+authTokenColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), tok.ID, tok.Type, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.UsedAt, tok.Meta, tok.CreatedAt)
	return err
}

func (r *AuthTokenRepository) GetByHash(ctx context.Context, hash string) (*models.AuthToken, error) {
	tok := &models.AuthToken{}
	err := sqlx.GetContext(ctx, r.db, tok, r.db.Rebind(`SELECT `+authTokenColumns+` FROM auth_tokens WHERE token_hash = ?`), hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return tok, nil
}

// DeleteUnused removes the user's unconsumed tokens of the given type.
func (r *AuthTokenRepository) DeleteUnused(ctx context.Context, userID string, typ models.TokenType) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM auth_tokens WHERE user_id = ? AND type = ? AND used_at IS NULL`), userID, typ)
	return err
}

// MarkUsed consumes the token. It reports false when another redemption got
// there first.
func (r *AuthTokenRepository) MarkUsed(ctx context.Context, id string, usedAt int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE auth_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`), usedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *AuthTokenRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM auth_tokens WHERE user_id = ?`), userID)
	return err
}

// PurgeStale deletes tokens consumed or expired before cutoff.
func (r *AuthTokenRepository) PurgeStale(ctx context.Context, cutoff int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM auth_tokens WHERE (used_at IS NOT NULL AND used_at < ?) OR expires_at < ?
	`), cutoff, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
