// Package credentials runs the invite and password-reset token lifecycle.
//
// A token is ISSUED with a hashed value and an expiry, then either CONSUMED
// (used_at set, by exactly one redemption) or implicitly EXPIRED. Tokens are
// never revived; a new one is issued instead and older unconsumed tokens of
// the same type for the user are deleted first.
package credentials

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/engine/access"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/pkg/logger"
	"taskflow/internal/pkg/validator"
	"taskflow/internal/platform/audit"
	"taskflow/internal/platform/auth"
	"taskflow/internal/platform/config"
	"taskflow/internal/platform/database"
	"taskflow/internal/platform/mailer"
	"taskflow/internal/platform/metrics"
	"taskflow/internal/platform/models"
	"taskflow/internal/platform/repositories"
)

const rawTokenBytes = 48

// Issued describes a created token. The raw value is only ever placed in the
// emailed link. Delivery failures leave the token valid.
type Issued struct {
	TokenID     string           `json:"token_id"`
	Type        models.TokenType `json:"type"`
	ExpiresAt   int64            `json:"expires_at"`
	Delivered   bool             `json:"delivered"`
	DeliveryErr error            `json:"-"`
}

type Workflow struct {
	db          *sqlx.DB
	users       *repositories.UserRepository
	memberships *repositories.MembershipRepository
	tokens      *repositories.AuthTokenRepository
	passwords   *auth.Passwords
	notifier    mailer.Notifier
	audit       *audit.Logger
	authCfg     config.AuthConfig
	appCfg      config.AppConfig
	now         func() time.Time
}

func NewWorkflow(db *sqlx.DB, passwords *auth.Passwords, notifier mailer.Notifier, auditLogger *audit.Logger, authCfg config.AuthConfig, appCfg config.AppConfig) *Workflow {
	return &Workflow{
		db:          db,
		users:       repositories.NewUserRepository(db),
		memberships: repositories.NewMembershipRepository(db),
		tokens:      repositories.NewAuthTokenRepository(db),
		passwords:   passwords,
		notifier:    notifier,
		audit:       auditLogger,
		authCfg:     authCfg,
		appCfg:      appCfg,
		now:         time.Now,
	}
}

// WithClock returns a copy using now for issuance and expiry checks.
func (w *Workflow) WithClock(now func() time.Time) *Workflow {
	c := *w
	c.now = now
	return &c
}

// IssueInvite creates an INVITE token for a user who has not yet set a
// password and emails the activation link.
func (w *Workflow) IssueInvite(ctx context.Context, userID, siteHint string) (*Issued, error) {
	user, err := w.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, errors.NotFound("User not found")
	}
	if user.HasPassword() {
		return nil, errors.InvalidInput("User already activated")
	}
	return w.issue(ctx, user, models.TokenInvite, siteHint, "invite")
}

// ResendInvite replaces the user's pending invite after the same permission
// check as an edit.
func (w *Workflow) ResendInvite(ctx context.Context, p *access.Principal, userID string) (*Issued, error) {
	user, err := w.guardedTarget(ctx, p, userID)
	if err != nil {
		return nil, err
	}
	if user.HasPassword() {
		return nil, errors.InvalidInput("User already activated")
	}
	if user.Email == "" {
		return nil, errors.InvalidInput("User has no email")
	}

	hint := ""
	if user.PrimarySiteID != nil {
		hint = *user.PrimarySiteID
	}
	issued, err := w.issue(ctx, user, models.TokenInvite, hint, "resend-invite")
	if err != nil {
		return nil, err
	}
	w.audit.Log(ctx, p.ID(), audit.ActionUserInvite, "user", user.ID, map[string]interface{}{"delivered": issued.Delivered})
	return issued, nil
}

// IssueReset always succeeds from the caller's point of view so the response
// never reveals whether an address is registered. Only persistence faults
// are returned.
func (w *Workflow) IssueReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.InvalidInput("Provide email")
	}

	user, err := w.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user == nil || !user.IsActive {
		logger.FromContext(ctx).Debug().Msg("password reset requested for unknown or inactive account")
		return nil
	}

	_, err = w.issue(ctx, user, models.TokenReset, "", "reset")
	return err
}

// ForceReset lets a manager-or-above send a RESET link to an activated user
// they may edit. It replaces recovering a user's password.
func (w *Workflow) ForceReset(ctx context.Context, p *access.Principal, userID string) (*Issued, error) {
	if err := access.RequireManagerOrAbove(p); err != nil {
		return nil, err
	}
	user, err := w.guardedTarget(ctx, p, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasPassword() {
		return nil, errors.InvalidInput("User is not activated")
	}

	issued, err := w.issue(ctx, user, models.TokenReset, "", "force-reset")
	if err != nil {
		return nil, err
	}
	w.audit.Log(ctx, p.ID(), audit.ActionUserForceReset, "user", user.ID, map[string]interface{}{"delivered": issued.Delivered})
	return issued, nil
}

// Redeem consumes a token of the expected type and sets the new password.
// Marking the token used, storing the hash, activating the account and
// rotating the token version commit together or not at all.
func (w *Workflow) Redeem(ctx context.Context, raw, newSecret string, expected models.TokenType) error {
	if raw == "" || newSecret == "" {
		return errors.InvalidInput("Missing token/password")
	}

	outcome := "invalid"
	defer func() {
		metrics.TokenRedemptions.WithLabelValues(string(expected), outcome).Inc()
	}()

	tok, err := w.tokens.GetByHash(ctx, HashToken(raw))
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if tok == nil || tok.Type != expected {
		return errors.ErrWorkflowTokenInvalid
	}
	if tok.IsUsed() {
		outcome = "used"
		return errors.ErrTokenUsed
	}
	now := w.now().Unix()
	if tok.IsExpired(now) {
		outcome = "expired"
		return errors.ErrTokenExpired
	}

	if err := validator.Password(newSecret, w.authCfg.MinPasswordLength); err != nil {
		outcome = "rejected"
		return errors.InvalidInput(err.Error())
	}
	hash, err := w.passwords.Hash(newSecret)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = database.WithTx(ctx, w.db, func(tx *sqlx.Tx) error {
		consumed, err := w.tokens.WithTx(tx).MarkUsed(ctx, tok.ID, now)
		if err != nil {
			return fmt.Errorf("mark token used: %w", err)
		}
		if !consumed {
			return errors.ErrTokenUsed
		}
		if err := w.users.WithTx(tx).SetPassword(ctx, tok.UserID, hash); err != nil {
			if errors.Is(err, repositories.ErrNoRowsAffected) {
				return errors.ErrWorkflowTokenInvalid
			}
			return fmt.Errorf("set password: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errors.ErrTokenUsed) {
			outcome = "used"
		}
		return err
	}

	outcome = "success"
	action := audit.ActionResetRedeemed
	if expected == models.TokenInvite {
		action = audit.ActionInviteRedeemed
	}
	w.audit.Log(ctx, tok.UserID, action, "user", tok.UserID, map[string]interface{}{"token_id": tok.ID})
	return nil
}

func (w *Workflow) guardedTarget(ctx context.Context, p *access.Principal, userID string) (*models.User, error) {
	user, err := w.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, errors.NotFound("Not found")
	}
	role, err := user.Role()
	if err != nil {
		return nil, err
	}
	sites, err := w.memberships.SiteIDsByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	if err := access.CanEdit(p, access.Target{ID: user.ID, Role: role, SiteIDs: sites}, nil); err != nil {
		return nil, err
	}
	return user, nil
}

func (w *Workflow) issue(ctx context.Context, user *models.User, typ models.TokenType, siteHint, reason string) (*Issued, error) {
	raw, err := NewRawToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	ttl := w.authCfg.ResetTTL
	if typ == models.TokenInvite {
		ttl = w.authCfg.InviteTTL
	}

	tok := &models.AuthToken{
		Type:      typ,
		UserID:    user.ID,
		TokenHash: HashToken(raw),
		ExpiresAt: w.now().Add(ttl).Unix(),
		Meta:      models.Meta{},
	}
	if siteHint != "" {
		tok.Meta["site_id"] = siteHint
	}

	err = database.WithTx(ctx, w.db, func(tx *sqlx.Tx) error {
		tokens := w.tokens.WithTx(tx)
		if err := tokens.DeleteUnused(ctx, user.ID, typ); err != nil {
			return fmt.Errorf("delete pending tokens: %w", err)
		}
		return tokens.Create(ctx, tok)
	})
	if err != nil {
		return nil, err
	}

	metrics.TokensIssued.WithLabelValues(string(typ)).Inc()
	logger.FromContext(ctx).Info().
		Str("token_id", tok.ID).
		Str("type", string(typ)).
		Str("user_id", user.ID).
		Msg("auth token issued")

	issued := &Issued{TokenID: tok.ID, Type: typ, ExpiresAt: tok.ExpiresAt}
	if err := w.deliver(ctx, user, typ, raw, ttl, reason); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("token_id", tok.ID).Msg("token email not delivered")
		issued.DeliveryErr = err
		return issued, nil
	}
	issued.Delivered = true
	return issued, nil
}

func (w *Workflow) deliver(ctx context.Context, user *models.User, typ models.TokenType, raw string, ttl time.Duration, reason string) error {
	data := mailer.LinkEmail{
		CompanyName: w.appCfg.CompanyName,
		FirstName:   user.FirstName,
		Link:        w.link(typ, raw),
		ExpiresIn:   humanDuration(ttl),
	}

	var (
		msg mailer.Message
		err error
	)
	if typ == models.TokenInvite {
		msg, err = mailer.InviteMessage(user.Email, data, reason)
	} else {
		msg, err = mailer.ResetMessage(user.Email, data, reason)
	}
	if err != nil {
		return err
	}
	return w.notifier.Send(ctx, msg)
}

func (w *Workflow) link(typ models.TokenType, raw string) string {
	path := "/reset-password"
	if typ == models.TokenInvite {
		path = "/accept-invite"
	}
	return strings.TrimRight(w.appCfg.URL, "/") + path + "?token=" + raw
}

// NewRawToken returns 48 random bytes as unpadded base64url.
func NewRawToken() (string, error) {
	b := make([]byte, rawTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken is the stored form of a raw token: hex sha256.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d >= time.Minute:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return d.String()
}
