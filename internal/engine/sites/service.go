package sites

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/engine/access"
	"taskflow/internal/engine/quota"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/platform/audit"
	"taskflow/internal/platform/database"
	"taskflow/internal/platform/models"
	"taskflow/internal/platform/repositories"
)

const (
	ReasonSiteNotEmpty     = "Site not empty"
	ReasonDuplicateSite    = "Site name already exists"
	ReasonModuleNotOffered = "Module not available for tenant: "
)

type Service struct {
	db          *sqlx.DB
	sites       *repositories.SiteRepository
	tenants     *repositories.TenantRepository
	memberships *repositories.MembershipRepository
	users       *repositories.UserRepository
	ledger      *quota.Ledger
	audit       *audit.Logger
}

func NewService(db *sqlx.DB, ledger *quota.Ledger, auditLogger *audit.Logger) *Service {
	return &Service{
		db:          db,
		sites:       repositories.NewSiteRepository(db),
		tenants:     repositories.NewTenantRepository(db),
		memberships: repositories.NewMembershipRepository(db),
		users:       repositories.NewUserRepository(db),
		ledger:      ledger,
		audit:       auditLogger,
	}
}

// List returns every site for ADMIN and the principal's member sites for
// everyone else.
func (s *Service) List(ctx context.Context, p *access.Principal) ([]models.SiteSummary, error) {
	memberOf := p.ID()
	if p.IsAdmin() {
		memberOf = ""
	}
	sites, err := s.sites.Summaries(ctx, memberOf)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}

func (s *Service) Get(ctx context.Context, p *access.Principal, id string) (*models.Site, error) {
	site, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && !p.MemberOf(site.ID) {
		return nil, errors.Forbidden(access.ReasonWrongSiteScope)
	}
	return site, nil
}

// Create adds a site to the tenant and makes the creator a managing member.
// Modules start as the tenant's available set.
func (s *Service) Create(ctx context.Context, p *access.Principal, tenantID, name string) (*models.Site, error) {
	if err := access.RequireAdminOrOwner(p); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" || tenantID == "" {
		return nil, errors.InvalidInput("Missing name/tenantId")
	}

	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if tenant == nil {
		return nil, errors.NotFound("Tenant not found")
	}

	site := &models.Site{TenantID: tenant.ID, Name: name, Modules: tenant.AvailableModules.Clone()}

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.ledger.WithTx(tx).EnforceSites(ctx, tenant.ID); err != nil {
			return err
		}
		if err := s.sites.WithTx(tx).Create(ctx, site); err != nil {
			if database.IsUniqueViolation(err) {
				return errors.Conflict(ReasonDuplicateSite)
			}
			return fmt.Errorf("create site: %w", err)
		}
		if err := s.memberships.WithTx(tx).Upsert(ctx, site.ID, p.ID(), true); err != nil {
			return fmt.Errorf("add creator membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, p.ID(), audit.ActionSiteCreate, "site", site.ID, map[string]interface{}{"tenant_id": tenant.ID, "name": name})
	return site, nil
}

// UpdateModules replaces the site's module toggles. Every key must be offered
// by the tenant.
func (s *Service) UpdateModules(ctx context.Context, p *access.Principal, id string, modules models.Modules) (*models.Site, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	site, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenants.GetByID(ctx, site.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if tenant == nil {
		return nil, errors.NotFound("Tenant not found")
	}

	if modules == nil {
		modules = models.Modules{}
	}
	if key, ok := modules.Subset(tenant.AvailableModules); !ok {
		return nil, errors.InvalidInput(ReasonModuleNotOffered + key)
	}

	if err := s.sites.UpdateModules(ctx, site.ID, modules); err != nil {
		return nil, fmt.Errorf("update modules: %w", err)
	}
	site.Modules = modules

	s.audit.Log(ctx, p.ID(), audit.ActionSiteModules, "site", site.ID, map[string]interface{}{"modules": modules})
	return site, nil
}

// Delete removes an empty site. Sites that still hold teams or memberships
// other than the requesting principal's own are refused with Conflict.
func (s *Service) Delete(ctx context.Context, p *access.Principal, id string) error {
	if err := access.RequireAdminOrOwner(p); err != nil {
		return err
	}
	if err := access.ScopedToSite(p, id); err != nil {
		return err
	}
	site, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		sites := s.sites.WithTx(tx)
		teams, members, err := sites.Occupancy(ctx, site.ID, p.ID())
		if err != nil {
			return fmt.Errorf("check occupancy: %w", err)
		}
		if teams > 0 || members > 0 {
			return errors.Conflict(ReasonSiteNotEmpty)
		}
		if err := s.memberships.WithTx(tx).DeleteByUserAndSites(ctx, p.ID(), []string{site.ID}); err != nil {
			return fmt.Errorf("remove own membership: %w", err)
		}
		if err := s.users.WithTx(tx).ClearPrimarySite(ctx, p.ID(), site.ID); err != nil {
			return fmt.Errorf("clear primary site: %w", err)
		}
		if err := sites.Delete(ctx, site.ID); err != nil {
			return fmt.Errorf("delete site: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.Log(ctx, p.ID(), audit.ActionSiteDelete, "site", site.ID, map[string]interface{}{"name": site.Name})
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Site, error) {
	site, err := s.sites.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load site: %w", err)
	}
	if site == nil {
		return nil, errors.NotFound("Site not found")
	}
	return site, nil
}
