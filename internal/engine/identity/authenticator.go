package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/engine/access"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/pkg/logger"
	"taskflow/internal/pkg/validator"
	"taskflow/internal/platform/auth"
	"taskflow/internal/platform/metrics"
	"taskflow/internal/platform/models"
	"taskflow/internal/platform/repositories"
)

type Profile struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Email         string  `json:"email"`
	FirstName     string  `json:"first_name"`
	LastName      string  `json:"last_name"`
	Role          string  `json:"role"`
	IsAdmin       bool    `json:"is_admin"`
	IsOwner       bool    `json:"is_owner"`
	IsManager     bool    `json:"is_manager"`
	SiteID        *string `json:"site_id"`
	SiteName      *string `json:"site_name"`
	MustChangePwd bool    `json:"must_change_pwd"`
}

type Session struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	User         Profile `json:"user"`
}

type Authenticator struct {
	sessions          *auth.SessionAuthority
	passwords         *auth.Passwords
	resolver          *Resolver
	users             *repositories.UserRepository
	sites             *repositories.SiteRepository
	minPasswordLength int
}

func NewAuthenticator(db sqlx.ExtContext, sessions *auth.SessionAuthority, passwords *auth.Passwords, resolver *Resolver, minPasswordLength int) *Authenticator {
	return &Authenticator{
		sessions:          sessions,
		passwords:         passwords,
		resolver:          resolver,
		users:             repositories.NewUserRepository(db),
		sites:             repositories.NewSiteRepository(db),
		minPasswordLength: minPasswordLength,
	}
}

// Login accepts an email (anything containing '@') or a username. Every
// failure, including unknown, inactive and not yet activated accounts,
// reports the same ErrInvalidCredentials.
func (a *Authenticator) Login(ctx context.Context, login, password string) (*Session, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, errors.InvalidInput("Missing credentials")
	}

	var (
		user *models.User
		err  error
	)
	if strings.Contains(login, "@") {
		user, err = a.users.GetByEmail(ctx, login)
	} else {
		user, err = a.users.GetByUsername(ctx, login)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if user == nil || !user.Usable() || !a.passwords.Verify(*user.PasswordHash, password) {
		metrics.Logins.WithLabelValues("failure").Inc()
		return nil, errors.ErrInvalidCredentials
	}

	if err := a.users.UpdateLastLogin(ctx, user.ID, time.Now().Unix()); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("user_id", user.ID).Msg("failed to record last login")
	}

	metrics.Logins.WithLabelValues("success").Inc()
	return a.issue(ctx, user)
}

// Refresh exchanges a valid refresh token for a new token pair.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	p, err := a.resolver.ResolveRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return a.reissue(ctx, p.ID())
}

// LogoutEverywhere revokes every token issued to the principal.
func (a *Authenticator) LogoutEverywhere(ctx context.Context, p *access.Principal) error {
	if err := a.users.IncrementTokenVersion(ctx, p.ID()); err != nil {
		return fmt.Errorf("increment token version: %w", err)
	}
	return nil
}

// ChangePassword verifies the current password, stores the new one and
// returns a fresh session; all earlier sessions stop resolving.
func (a *Authenticator) ChangePassword(ctx context.Context, p *access.Principal, current, next string) (*Session, error) {
	user, err := a.users.GetByID(ctx, p.ID())
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil || !user.HasPassword() {
		return nil, errors.ErrInvalidUser
	}
	if !a.passwords.Verify(*user.PasswordHash, current) {
		return nil, errors.ErrInvalidCredentials
	}
	if err := validator.Password(next, a.minPasswordLength); err != nil {
		return nil, errors.InvalidInput(err.Error())
	}

	hash, err := a.passwords.Hash(next)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := a.users.SetPassword(ctx, user.ID, hash); err != nil {
		return nil, fmt.Errorf("set password: %w", err)
	}
	return a.reissue(ctx, user.ID)
}

// Profile describes the principal's own account.
func (a *Authenticator) Profile(ctx context.Context, p *access.Principal) (*Profile, error) {
	user, err := a.users.GetByID(ctx, p.ID())
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, errors.ErrInvalidUser
	}
	return a.profile(ctx, user)
}

func (a *Authenticator) reissue(ctx context.Context, userID string) (*Session, error) {
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil || !user.Usable() {
		return nil, errors.ErrInvalidUser
	}
	return a.issue(ctx, user)
}

func (a *Authenticator) issue(ctx context.Context, user *models.User) (*Session, error) {
	profile, err := a.profile(ctx, user)
	if err != nil {
		return nil, err
	}

	sub := auth.Subject{UserID: user.ID, TokenVersion: user.TokenVersion}
	if user.PrimarySiteID != nil {
		sub.SiteID = *user.PrimarySiteID
	}

	accessToken, err := a.sessions.IssueAccess(sub)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, err := a.sessions.IssueRefresh(sub)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	return &Session{AccessToken: accessToken, RefreshToken: refreshToken, User: *profile}, nil
}

func (a *Authenticator) profile(ctx context.Context, user *models.User) (*Profile, error) {
	role, err := user.Role()
	if err != nil {
		return nil, err
	}

	profile := &Profile{
		ID:            user.ID,
		Username:      user.Username,
		Email:         user.Email,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Role:          role.Name,
		IsAdmin:       role.IsAdmin,
		IsOwner:       role.IsOwner,
		IsManager:     role.IsManager,
		SiteID:        user.PrimarySiteID,
		MustChangePwd: user.MustChangePwd,
	}

	if user.PrimarySiteID != nil {
		site, err := a.sites.GetByID(ctx, *user.PrimarySiteID)
		if err != nil {
			return nil, fmt.Errorf("load primary site: %w", err)
		}
		if site != nil {
			profile.SiteName = &site.Name
		}
	}
	return profile, nil
}
