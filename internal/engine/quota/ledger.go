package quota

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/pkg/logger"
	"taskflow/internal/platform/metrics"
	"taskflow/internal/platform/models"
	"taskflow/internal/platform/repositories"
)

// Ledger compares live role populations against tenant limits.
//
// Checks are read-then-compare and are not serialized against concurrent
// writers: two simultaneous creations can both pass and overshoot a limit by
// the number of racing requests. Limits are soft caps under that model.
type Ledger struct {
	tenants     *repositories.TenantRepository
	sites       *repositories.SiteRepository
	users       *repositories.UserRepository
	memberships *repositories.MembershipRepository
}

func NewLedger(db sqlx.ExtContext) *Ledger {
	return &Ledger{
		tenants:     repositories.NewTenantRepository(db),
		sites:       repositories.NewSiteRepository(db),
		users:       repositories.NewUserRepository(db),
		memberships: repositories.NewMembershipRepository(db),
	}
}

// WithTx returns a ledger that reads through tx.
func (l *Ledger) WithTx(tx *sqlx.Tx) *Ledger {
	return NewLedger(tx)
}

// Enforce fails with QuotaExceeded when granting role would meet or pass the
// tenant's limit. ADMIN and unlimited roles always pass.
func (l *Ledger) Enforce(ctx context.Context, tenantID string, role models.Role) error {
	if !role.Quotaed() {
		return nil
	}

	tenant, err := l.tenant(ctx, tenantID)
	if err != nil {
		return err
	}

	limit := tenant.LimitFor(role)
	if limit == nil {
		return nil
	}

	current, err := l.Count(ctx, tenantID, role)
	if err != nil {
		return err
	}

	if current >= *limit {
		return reject(ctx, role.Label(), current, *limit)
	}
	return nil
}

// EnforceMembership is Enforce for a membership grant. A user who already
// holds a membership in the tenant is counted and is not charged again.
func (l *Ledger) EnforceMembership(ctx context.Context, tenantID, userID string, role models.Role) error {
	if !role.Quotaed() {
		return nil
	}

	counted, err := l.memberships.IsUserInTenant(ctx, userID, tenantID)
	if err != nil {
		return fmt.Errorf("check tenant membership: %w", err)
	}
	if counted {
		return nil
	}
	return l.Enforce(ctx, tenantID, role)
}

// EnforceSites fails when the tenant already owns max_sites sites.
func (l *Ledger) EnforceSites(ctx context.Context, tenantID string) error {
	tenant, err := l.tenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant.MaxSites == nil {
		return nil
	}

	current, err := l.sites.CountByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("count sites: %w", err)
	}
	if current >= *tenant.MaxSites {
		return reject(ctx, "Site", current, *tenant.MaxSites)
	}
	return nil
}

// Count returns the population of role in the tenant. Owners are not bound
// to sites, so OWNER is counted across every tenant; MANAGER and USER are
// counted through memberships in the tenant's sites.
func (l *Ledger) Count(ctx context.Context, tenantID string, role models.Role) (int, error) {
	var (
		n   int
		err error
	)
	if role == models.RoleOwner {
		n, err = l.users.CountByRole(ctx, role.Name)
	} else {
		n, err = l.users.CountByRoleInTenant(ctx, tenantID, role.Name)
	}
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", role.Name, err)
	}
	return n, nil
}

type Usage struct {
	Limit *int `json:"limit"`
	Count int  `json:"count"`
}

type Stats struct {
	TenantID string           `json:"tenant_id"`
	Roles    map[string]Usage `json:"roles"`
	Sites    Usage            `json:"sites"`
}

// Stats reports limits and current counts for every quotaed bucket.
func (l *Ledger) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	tenant, err := l.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{TenantID: tenant.ID, Roles: map[string]Usage{}}
	for _, role := range []models.Role{models.RoleOwner, models.RoleManager, models.RoleUser} {
		n, err := l.Count(ctx, tenant.ID, role)
		if err != nil {
			return nil, err
		}
		stats.Roles[role.Name] = Usage{Limit: tenant.LimitFor(role), Count: n}
	}

	sites, err := l.sites.CountByTenant(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("count sites: %w", err)
	}
	stats.Sites = Usage{Limit: tenant.MaxSites, Count: sites}
	return stats, nil
}

func (l *Ledger) tenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	tenant, err := l.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if tenant == nil {
		return nil, errors.NotFound("Tenant not found")
	}
	return tenant, nil
}

func reject(ctx context.Context, label string, current, limit int) error {
	metrics.QuotaRejections.WithLabelValues(label).Inc()
	logger.FromContext(ctx).Info().
		Str("resource", label).
		Int("current", current).
		Int("limit", limit).
		Msg("quota reached")
	return errors.QuotaExceeded(label)
}
