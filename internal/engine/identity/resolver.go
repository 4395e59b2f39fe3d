package identity

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/engine/access"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/pkg/logger"
	"taskflow/internal/platform/auth"
	"taskflow/internal/platform/repositories"
)

// Resolver turns a presented session token into a live Principal. The user
// row is reloaded on every call; nothing is cached between requests.
type Resolver struct {
	sessions    *auth.SessionAuthority
	users       *repositories.UserRepository
	memberships *repositories.MembershipRepository
}

func NewResolver(db sqlx.ExtContext, sessions *auth.SessionAuthority) *Resolver {
	return &Resolver{
		sessions:    sessions,
		users:       repositories.NewUserRepository(db),
		memberships: repositories.NewMembershipRepository(db),
	}
}

// Resolve verifies an access token and loads its principal. It fails with
// ErrInvalidToken for bad or stale tokens and ErrInvalidUser for missing or
// unusable accounts.
func (r *Resolver) Resolve(ctx context.Context, token string) (*access.Principal, error) {
	claims, err := r.sessions.VerifyAccess(token)
	if err != nil {
		logger.FromContext(ctx).Debug().Err(err).Msg("access token rejected")
		return nil, errors.ErrInvalidToken
	}
	return r.load(ctx, claims)
}

// ResolveRefresh is Resolve for refresh tokens.
func (r *Resolver) ResolveRefresh(ctx context.Context, token string) (*access.Principal, error) {
	claims, err := r.sessions.VerifyRefresh(token)
	if err != nil {
		logger.FromContext(ctx).Debug().Err(err).Msg("refresh token rejected")
		return nil, errors.ErrInvalidToken
	}
	return r.load(ctx, claims)
}

func (r *Resolver) load(ctx context.Context, claims *auth.Claims) (*access.Principal, error) {
	user, err := r.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil || !user.Usable() {
		return nil, errors.ErrInvalidUser
	}
	if claims.Version != user.TokenVersion {
		return nil, errors.ErrInvalidToken
	}

	role, err := user.Role()
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("user_id", user.ID).Msg("user has an invalid role")
		return nil, errors.ErrInvalidUser
	}

	memberships, err := r.memberships.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	siteIDs := make([]string, 0, len(memberships))
	for _, m := range memberships {
		siteIDs = append(siteIDs, m.SiteID)
	}

	primary := ""
	if user.PrimarySiteID != nil {
		primary = *user.PrimarySiteID
	}

	return access.NewPrincipal(access.PrincipalInput{
		ID:            user.ID,
		Username:      user.Username,
		Role:          role,
		PrimarySiteID: primary,
		SiteIDs:       siteIDs,
		TokenVersion:  user.TokenVersion,
	}), nil
}
