// Package bootstrap provisions the first tenant, site and administrator of
// a fresh installation and recovers administrator access for the operator
// CLI. Nothing here goes through the request guards or the quota ledger.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/pkg/validator"
	"taskflow/internal/platform/auth"
	"taskflow/internal/platform/database"
	"taskflow/internal/platform/models"
	"taskflow/internal/platform/repositories"
)

const DefaultSiteName = "Main"

type AdminInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type SeedInput struct {
	Company  string
	SiteName string
	Admin    AdminInput
}

type SeedResult struct {
	TenantID      string
	SiteID        string
	AdminID       string
	CreatedTenant bool
	CreatedSite   bool
	CreatedAdmin  bool
	Promoted      bool
}

type Bootstrapper struct {
	db                *sqlx.DB
	passwords         *auth.Passwords
	minPasswordLength int
}

func New(db *sqlx.DB, passwords *auth.Passwords, minPasswordLength int) *Bootstrapper {
	return &Bootstrapper{db: db, passwords: passwords, minPasswordLength: minPasswordLength}
}

// Seed makes sure the company tenant and its default site exist. When no
// ADMIN exists yet it creates one from in.Admin; otherwise a named existing
// user is promoted to ADMIN. Running it twice changes nothing.
func (b *Bootstrapper) Seed(ctx context.Context, in SeedInput) (*SeedResult, error) {
	company := strings.TrimSpace(in.Company)
	if company == "" {
		return nil, errors.InvalidInput("Missing company name")
	}
	siteName := strings.TrimSpace(in.SiteName)
	if siteName == "" {
		siteName = DefaultSiteName
	}

	res := &SeedResult{}
	err := database.WithTx(ctx, b.db, func(tx *sqlx.Tx) error {
		tenants := repositories.NewTenantRepository(tx)
		sites := repositories.NewSiteRepository(tx)
		users := repositories.NewUserRepository(tx)

		tenant, err := tenants.GetByName(ctx, company)
		if err != nil {
			return fmt.Errorf("load tenant: %w", err)
		}
		if tenant == nil {
			tenant = &models.Tenant{Name: company}
			if err := tenants.Create(ctx, tenant); err != nil {
				return fmt.Errorf("create tenant: %w", err)
			}
			res.CreatedTenant = true
		}
		res.TenantID = tenant.ID

		site, err := sites.GetByName(ctx, siteName)
		if err != nil {
			return fmt.Errorf("load site: %w", err)
		}
		if site == nil {
			site = &models.Site{TenantID: tenant.ID, Name: siteName, Modules: tenant.AvailableModules.Clone()}
			if err := sites.Create(ctx, site); err != nil {
				return fmt.Errorf("create site: %w", err)
			}
			res.CreatedSite = true
		} else if site.TenantID != tenant.ID {
			return errors.Conflict(fmt.Sprintf("Site %q belongs to another tenant", siteName))
		}
		res.SiteID = site.ID

		admins, err := users.CountByRole(ctx, models.RoleAdmin.Name)
		if err != nil {
			return fmt.Errorf("count admins: %w", err)
		}

		if admins == 0 {
			admin, err := b.createAdmin(ctx, tx, site.ID, in.Admin)
			if err != nil {
				return err
			}
			res.AdminID = admin.ID
			res.CreatedAdmin = true
			return nil
		}

		username := strings.TrimSpace(in.Admin.Username)
		if username == "" {
			return nil
		}
		user, err := users.GetByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if user == nil || user.RoleID == models.RoleAdmin.Name {
			return nil
		}
		user.RoleID = models.RoleAdmin.Name
		if err := users.Update(ctx, user); err != nil {
			return fmt.Errorf("promote user: %w", err)
		}
		res.AdminID = user.ID
		res.Promoted = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ResetAdmin creates the named ADMIN or resets an existing account to an
// active ADMIN with a new password, placed on siteName as a managing member.
// Existing sessions of the account are revoked.
func (b *Bootstrapper) ResetAdmin(ctx context.Context, siteName string, in AdminInput) (string, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return "", errors.InvalidInput("Missing username")
	}
	if err := validator.Password(in.Password, b.minPasswordLength); err != nil {
		return "", errors.InvalidInput(err.Error())
	}
	if strings.TrimSpace(siteName) == "" {
		siteName = DefaultSiteName
	}

	var adminID string
	err := database.WithTx(ctx, b.db, func(tx *sqlx.Tx) error {
		sites := repositories.NewSiteRepository(tx)
		users := repositories.NewUserRepository(tx)
		memberships := repositories.NewMembershipRepository(tx)

		site, err := sites.GetByName(ctx, strings.TrimSpace(siteName))
		if err != nil {
			return fmt.Errorf("load site: %w", err)
		}
		if site == nil {
			return errors.NotFound(fmt.Sprintf("Site %q not found, run seed first", siteName))
		}

		user, err := users.GetByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if user == nil {
			created, err := b.createAdmin(ctx, tx, site.ID, in)
			if err != nil {
				return err
			}
			adminID = created.ID
			return nil
		}

		hash, err := b.passwords.Hash(in.Password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}

		user.RoleID = models.RoleAdmin.Name
		user.IsActive = true
		user.PrimarySiteID = &site.ID
		if err := users.Update(ctx, user); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		if err := users.SetPassword(ctx, user.ID, hash); err != nil {
			return fmt.Errorf("set password: %w", err)
		}
		if err := memberships.Upsert(ctx, site.ID, user.ID, true); err != nil {
			return fmt.Errorf("upsert membership: %w", err)
		}
		adminID = user.ID
		return nil
	})
	return adminID, err
}

func (b *Bootstrapper) createAdmin(ctx context.Context, tx *sqlx.Tx, siteID string, in AdminInput) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	email := validator.NormalizeEmail(in.Email)
	if username == "" || email == "" {
		return nil, errors.InvalidInput("Admin username and email are required")
	}
	if err := validator.Username(username); err != nil {
		return nil, errors.InvalidInput(err.Error())
	}
	if err := validator.Email(email); err != nil {
		return nil, errors.InvalidInput(err.Error())
	}
	if err := validator.Password(in.Password, b.minPasswordLength); err != nil {
		return nil, errors.InvalidInput(err.Error())
	}

	hash, err := b.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	firstName := strings.TrimSpace(in.FirstName)
	if firstName == "" {
		firstName = "System"
	}
	lastName := strings.TrimSpace(in.LastName)
	if lastName == "" {
		lastName = "Administrator"
	}

	user := &models.User{
		Username:      username,
		Email:         email,
		FirstName:     firstName,
		LastName:      lastName,
		RoleID:        models.RoleAdmin.Name,
		PasswordHash:  &hash,
		IsActive:      true,
		PrimarySiteID: &siteID,
	}
	if err := repositories.NewUserRepository(tx).Create(ctx, user); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, errors.Conflict("Username or email already exists")
		}
		return nil, fmt.Errorf("create admin: %w", err)
	}
	if err := repositories.NewMembershipRepository(tx).Upsert(ctx, siteID, user.ID, true); err != nil {
		return nil, fmt.Errorf("create admin membership: %w", err)
	}
	return user, nil
}
