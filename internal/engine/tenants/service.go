package tenants

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/engine/access"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/pkg/logger"
	"taskflow/internal/platform/audit"
	"taskflow/internal/platform/database"
	"taskflow/internal/platform/models"
	"taskflow/internal/platform/repositories"
)

const (
	ReasonNegativeLimit   = "Limits must be >= 0"
	ReasonDuplicateTenant = "Tenant name already exists"
	ReasonMissingName     = "Missing name"
)

// Limit is a nullable quota field in a patch. Set records whether the field
// was present at all; a present null clears the limit.
type Limit struct {
	Set   bool
	Value *int
}

func (l *Limit) UnmarshalJSON(b []byte) error {
	l.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		l.Value = nil
		return nil
	}
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	l.Value = &v
	return nil
}

// Of is a present limit with value v.
func Of(v int) Limit { return Limit{Set: true, Value: &v} }

// Unlimited is a present null limit.
func Unlimited() Limit { return Limit{Set: true} }

type Service struct {
	db      *sqlx.DB
	tenants *repositories.TenantRepository
	sites   *repositories.SiteRepository
	audit   *audit.Logger
}

func NewService(db *sqlx.DB, auditLogger *audit.Logger) *Service {
	return &Service{
		db:      db,
		tenants: repositories.NewTenantRepository(db),
		sites:   repositories.NewSiteRepository(db),
		audit:   auditLogger,
	}
}

func (s *Service) List(ctx context.Context, p *access.Principal) ([]models.Tenant, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	tenants, err := s.tenants.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

func (s *Service) Get(ctx context.Context, p *access.Principal, id string) (*models.Tenant, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	return s.load(ctx, s.tenants, id)
}

type CreateInput struct {
	Name             string         `json:"name"`
	MaxSites         *int           `json:"max_sites"`
	MaxOwners        *int           `json:"max_owners"`
	MaxManagers      *int           `json:"max_managers"`
	MaxUsers         *int           `json:"max_users"`
	AvailableModules models.Modules `json:"available_modules"`
}

func (s *Service) Create(ctx context.Context, p *access.Principal, in CreateInput) (*models.Tenant, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errors.InvalidInput(ReasonMissingName)
	}
	if err := checkLimits(in.MaxSites, in.MaxOwners, in.MaxManagers, in.MaxUsers); err != nil {
		return nil, err
	}

	tenant := &models.Tenant{
		Name:             name,
		MaxSites:         in.MaxSites,
		MaxOwners:        in.MaxOwners,
		MaxManagers:      in.MaxManagers,
		MaxUsers:         in.MaxUsers,
		AvailableModules: in.AvailableModules,
	}
	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, translateWrite(err, "create tenant")
	}

	s.audit.Log(ctx, p.ID(), audit.ActionTenantCreate, "tenant", tenant.ID, map[string]interface{}{"name": name})
	return tenant, nil
}

// UpdateInput patches a tenant. Limits not Set are left alone.
type UpdateInput struct {
	Name             *string        `json:"name"`
	MaxSites         Limit          `json:"max_sites"`
	MaxOwners        Limit          `json:"max_owners"`
	MaxManagers      Limit          `json:"max_managers"`
	MaxUsers         Limit          `json:"max_users"`
	AvailableModules models.Modules `json:"available_modules"`
}

// Update applies the patch. When AvailableModules changes, every site of the
// tenant drops the modules that are no longer offered.
func (s *Service) Update(ctx context.Context, p *access.Principal, id string, in UpdateInput) (*models.Tenant, error) {
	if err := access.RequireAdmin(p); err != nil {
		return nil, err
	}
	if err := checkLimits(in.MaxSites.Value, in.MaxOwners.Value, in.MaxManagers.Value, in.MaxUsers.Value); err != nil {
		return nil, err
	}

	var tenant *models.Tenant
	pruned := 0
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		tenants := s.tenants.WithTx(tx)
		var err error
		if tenant, err = s.load(ctx, tenants, id); err != nil {
			return err
		}

		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return errors.InvalidInput(ReasonMissingName)
			}
			tenant.Name = name
		}
		apply(&tenant.MaxSites, in.MaxSites)
		apply(&tenant.MaxOwners, in.MaxOwners)
		apply(&tenant.MaxManagers, in.MaxManagers)
		apply(&tenant.MaxUsers, in.MaxUsers)

		if in.AvailableModules != nil {
			tenant.AvailableModules = in.AvailableModules
			if pruned, err = s.pruneSiteModules(ctx, s.sites.WithTx(tx), tenant); err != nil {
				return err
			}
		}

		if err := tenants.Update(ctx, tenant); err != nil {
			return translateWrite(err, "update tenant")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if pruned > 0 {
		logger.FromContext(ctx).Info().Str("tenant_id", tenant.ID).Int("sites", pruned).Msg("pruned site modules")
	}
	s.audit.Log(ctx, p.ID(), audit.ActionTenantUpdate, "tenant", tenant.ID, map[string]interface{}{
		"max_sites":    tenant.MaxSites,
		"max_owners":   tenant.MaxOwners,
		"max_managers": tenant.MaxManagers,
		"max_users":    tenant.MaxUsers,
		"pruned_sites": pruned,
	})
	return tenant, nil
}

// pruneSiteModules removes module keys the tenant no longer offers and
// reports how many sites changed.
func (s *Service) pruneSiteModules(ctx context.Context, sites *repositories.SiteRepository, tenant *models.Tenant) (int, error) {
	list, err := sites.ListByTenant(ctx, tenant.ID)
	if err != nil {
		return 0, fmt.Errorf("list tenant sites: %w", err)
	}

	changed := 0
	for _, site := range list {
		kept := models.Modules{}
		for k, on := range site.Modules {
			if tenant.AvailableModules[k] {
				kept[k] = on
			}
		}
		if len(kept) == len(site.Modules) {
			continue
		}
		if err := sites.UpdateModules(ctx, site.ID, kept); err != nil {
			return 0, fmt.Errorf("prune site modules: %w", err)
		}
		changed++
	}
	return changed, nil
}

func (s *Service) load(ctx context.Context, tenants *repositories.TenantRepository, id string) (*models.Tenant, error) {
	tenant, err := tenants.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if tenant == nil {
		return nil, errors.NotFound("Tenant not found")
	}
	return tenant, nil
}

func apply(dst **int, l Limit) {
	if l.Set {
		*dst = l.Value
	}
}

func checkLimits(limits ...*int) error {
	for _, l := range limits {
		if l != nil && *l < 0 {
			return errors.InvalidInput(ReasonNegativeLimit)
		}
	}
	return nil
}

func translateWrite(err error, op string) error {
	if database.IsUniqueViolation(err) {
		return errors.Conflict(ReasonDuplicateTenant)
	}
	return fmt.Errorf("%s: %w", op, err)
}
