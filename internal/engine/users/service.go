// Package users manages user accounts, their site memberships and team
// placement on behalf of a resolved principal.
package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/engine/access"
	"taskflow/internal/engine/credentials"
	"taskflow/internal/engine/quota"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/pkg/logger"
	"taskflow/internal/pkg/validator"
	"taskflow/internal/platform/audit"
	"taskflow/internal/platform/database"
	"taskflow/internal/platform/models"
	"taskflow/internal/platform/repositories"
)

const (
	ReasonTeamOutsideSite    = "Team does not belong to selected site"
	ReasonRemovePrimarySite  = "Cannot remove membership of primary site"
	ReasonDuplicateAccount   = "Username or email already exists"
	ReasonMembershipExists   = "Membership already exists"
	ReasonMissingUserDetails = "firstName, lastName, username and email are required"
)

// Inviter issues the activation link for a freshly created account.
type Inviter interface {
	IssueInvite(ctx context.Context, userID, siteHint string) (*credentials.Issued, error)
}

type Service struct {
	db          *sqlx.DB
	users       *repositories.UserRepository
	memberships *repositories.MembershipRepository
	sites       *repositories.SiteRepository
	teams       *repositories.TeamRepository
	tenants     *repositories.TenantRepository
	tokens      *repositories.AuthTokenRepository
	ledger      *quota.Ledger
	inviter     Inviter
	audit       *audit.Logger
}

func NewService(db *sqlx.DB, ledger *quota.Ledger, inviter Inviter, auditLogger *audit.Logger) *Service {
	return &Service{
		db:          db,
		users:       repositories.NewUserRepository(db),
		memberships: repositories.NewMembershipRepository(db),
		sites:       repositories.NewSiteRepository(db),
		teams:       repositories.NewTeamRepository(db),
		tenants:     repositories.NewTenantRepository(db),
		tokens:      repositories.NewAuthTokenRepository(db),
		ledger:      ledger,
		inviter:     inviter,
		audit:       auditLogger,
	}
}

type CreateInput struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	TeamID    *string `json:"team_id"`
}

type Created struct {
	User   *models.User        `json:"user"`
	Invite *credentials.Issued `json:"invite,omitempty"`
}

// Create adds an inactive account on siteID and sends its invite. OWNER and
// ADMIN accounts are created without a primary site or membership.
func (s *Service) Create(ctx context.Context, p *access.Principal, siteID string, in CreateInput) (*Created, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = validator.NormalizeEmail(in.Email)
	if in.FirstName == "" || in.LastName == "" || in.Username == "" || in.Email == "" {
		return nil, errors.InvalidInput(ReasonMissingUserDetails)
	}
	if err := validator.Username(in.Username); err != nil {
		return nil, errors.InvalidInput(err.Error())
	}
	if err := validator.Email(in.Email); err != nil {
		return nil, errors.InvalidInput(err.Error())
	}

	role := models.RoleUser
	if in.Role != "" {
		var err error
		if role, err = models.ParseRole(in.Role); err != nil {
			return nil, err
		}
	}

	if err := access.CanCreate(p, role); err != nil {
		return nil, err
	}
	if err := access.ScopedToSite(p, siteID); err != nil {
		return nil, err
	}

	site, err := s.site(ctx, siteID)
	if err != nil {
		return nil, err
	}

	placed := role == models.RoleManager || role == models.RoleUser
	var teamID *string
	if placed && in.TeamID != nil && *in.TeamID != "" {
		if err := s.checkTeam(ctx, s.teams, *in.TeamID, site.ID); err != nil {
			return nil, err
		}
		teamID = in.TeamID
	}

	if err := s.checkAvailable(ctx, in.Username, in.Email, ""); err != nil {
		return nil, err
	}

	user := &models.User{
		Username:      in.Username,
		Email:         in.Email,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		RoleID:        role.Name,
		IsActive:      false,
		MustChangePwd: true,
	}
	if placed {
		user.PrimarySiteID = &site.ID
		user.TeamID = teamID
	}

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.ledger.WithTx(tx).Enforce(ctx, site.TenantID, role); err != nil {
			return err
		}
		if err := s.users.WithTx(tx).Create(ctx, user); err != nil {
			return translateWrite(err, "create user")
		}
		if placed {
			if err := s.memberships.WithTx(tx).Create(ctx, site.ID, user.ID, role == models.RoleManager); err != nil {
				return fmt.Errorf("create membership: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, p.ID(), audit.ActionUserCreate, "user", user.ID, map[string]interface{}{
		"role":    role.Name,
		"site_id": site.ID,
	})

	out := &Created{}
	if invite, err := s.inviter.IssueInvite(ctx, user.ID, site.ID); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("user_id", user.ID).Msg("failed to issue invite for new user")
	} else {
		out.Invite = invite
	}

	if out.User, err = s.load(ctx, user.ID); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns the users visible to p with their memberships. ADMIN sees
// everyone, OWNER everyone but ADMINs, others only users sharing a site.
func (s *Service) List(ctx context.Context, p *access.Principal) ([]models.User, error) {
	filter := repositories.UserFilter{}
	switch {
	case p.IsAdmin():
	case p.IsOwner():
		filter.ExcludeRoles = []string{models.RoleAdmin.Name}
	default:
		filter.ExcludeRoles = []string{models.RoleAdmin.Name}
		filter.RestrictToSites = true
		filter.SiteIDs = p.SiteIDs()
	}

	list, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	ids := make([]string, 0, len(list))
	for _, u := range list {
		ids = append(ids, u.ID)
	}
	memberships, err := s.memberships.ListByUsers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	for i := range list {
		list[i].Memberships = memberships[list[i].ID]
		if list[i].Memberships == nil {
			list[i].Memberships = []models.SiteMembership{}
		}
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, p *access.Principal, id string) (*models.User, error) {
	user, target, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.CanView(p, target); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateInput is a partial update; nil fields are left alone. An empty
// TeamID clears the team.
type UpdateInput struct {
	FirstName     *string  `json:"first_name"`
	LastName      *string  `json:"last_name"`
	Username      *string  `json:"username"`
	Email         *string  `json:"email"`
	Role          *string  `json:"role"`
	IsActive      *bool    `json:"is_active"`
	PrimarySiteID *string  `json:"primary_site_id"`
	TeamID        *string  `json:"team_id"`
	AddSites      []string `json:"add_sites"`
	RemoveSites   []string `json:"remove_sites"`
}

// Update applies a partial update in one transaction. Deactivating a user
// revokes their sessions.
func (s *Service) Update(ctx context.Context, p *access.Principal, id string, in UpdateInput) (*models.User, error) {
	user, target, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}

	var nextRole *models.Role
	if in.Role != nil {
		role, err := models.ParseRole(*in.Role)
		if err != nil {
			return nil, err
		}
		nextRole = &role
	}

	if err := access.CanEdit(p, target, nextRole); err != nil {
		return nil, err
	}
	if err := access.CanChangeMemberships(p, in.AddSites, in.RemoveSites); err != nil {
		return nil, err
	}

	role := target.Role
	if nextRole != nil {
		role = *nextRole
	}

	primary := user.PrimarySiteID
	primaryChanged := false
	if in.PrimarySiteID != nil && *in.PrimarySiteID != "" && (primary == nil || *primary != *in.PrimarySiteID) {
		if err := access.ScopedToSite(p, *in.PrimarySiteID); err != nil {
			return nil, err
		}
		primary = in.PrimarySiteID
		primaryChanged = true
	}
	if primary != nil {
		for _, siteID := range in.RemoveSites {
			if siteID == *primary {
				return nil, errors.InvalidInput(ReasonRemovePrimarySite)
			}
		}
	}

	if in.FirstName != nil {
		user.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		user.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if err := validator.Username(username); err != nil {
			return nil, errors.InvalidInput(err.Error())
		}
		user.Username = username
	}
	if in.Email != nil {
		email := validator.NormalizeEmail(*in.Email)
		if err := validator.Email(email); err != nil {
			return nil, errors.InvalidInput(err.Error())
		}
		user.Email = email
	}
	if in.Username != nil || in.Email != nil {
		if err := s.checkAvailable(ctx, user.Username, user.Email, user.ID); err != nil {
			return nil, err
		}
	}

	wasActive := user.IsActive
	if in.IsActive != nil {
		user.IsActive = *in.IsActive
	}
	// An account cannot be active before its password is set.
	if !user.HasPassword() {
		user.IsActive = false
	}
	user.RoleID = role.Name
	user.PrimarySiteID = primary

	roleChanged := role != target.Role
	revoke := wasActive && !user.IsActive

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		ledger := s.ledger.WithTx(tx)
		users := s.users.WithTx(tx)
		memberships := s.memberships.WithTx(tx)
		sites := s.sites.WithTx(tx)
		isManager := role == models.RoleManager

		if roleChanged {
			tenantIDs, err := s.roleTenants(ctx, tx, p, user.ID, primary, role)
			if err != nil {
				return err
			}
			for _, tenantID := range tenantIDs {
				if err := ledger.Enforce(ctx, tenantID, role); err != nil {
					return err
				}
			}
		}

		if primaryChanged {
			site, err := siteIn(ctx, sites, *primary)
			if err != nil {
				return err
			}
			if err := ledger.EnforceMembership(ctx, site.TenantID, user.ID, role); err != nil {
				return err
			}
			if err := memberships.Upsert(ctx, site.ID, user.ID, isManager); err != nil {
				return fmt.Errorf("upsert primary membership: %w", err)
			}
		} else if roleChanged && primary != nil {
			if err := memberships.Upsert(ctx, *primary, user.ID, isManager); err != nil {
				return fmt.Errorf("upsert primary membership: %w", err)
			}
		}

		for _, siteID := range in.AddSites {
			site, err := siteIn(ctx, sites, siteID)
			if err != nil {
				return err
			}
			if err := ledger.EnforceMembership(ctx, site.TenantID, user.ID, role); err != nil {
				return err
			}
			if err := memberships.EnsureExists(ctx, site.ID, user.ID, isManager); err != nil {
				return fmt.Errorf("add membership: %w", err)
			}
		}
		if err := memberships.DeleteByUserAndSites(ctx, user.ID, in.RemoveSites); err != nil {
			return fmt.Errorf("remove memberships: %w", err)
		}

		switch {
		case in.TeamID != nil && *in.TeamID == "":
			user.TeamID = nil
		case in.TeamID != nil:
			if primary == nil {
				return errors.InvalidInput(ReasonTeamOutsideSite)
			}
			if err := s.checkTeam(ctx, s.teams.WithTx(tx), *in.TeamID, *primary); err != nil {
				return err
			}
			user.TeamID = in.TeamID
		case primaryChanged && user.TeamID != nil:
			team, err := s.teams.WithTx(tx).GetByID(ctx, *user.TeamID)
			if err != nil {
				return fmt.Errorf("load team: %w", err)
			}
			if team == nil || team.SiteID != *primary {
				user.TeamID = nil
			}
		}

		if err := users.Update(ctx, user); err != nil {
			return translateWrite(err, "update user")
		}
		if revoke {
			if err := users.IncrementTokenVersion(ctx, user.ID); err != nil {
				return fmt.Errorf("revoke sessions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]interface{}{}
	if roleChanged {
		meta["role"] = role.Name
	}
	if in.IsActive != nil {
		meta["is_active"] = user.IsActive
	}
	if len(in.AddSites) > 0 {
		meta["add_sites"] = in.AddSites
	}
	if len(in.RemoveSites) > 0 {
		meta["remove_sites"] = in.RemoveSites
	}
	s.audit.Log(ctx, p.ID(), audit.ActionUserUpdate, "user", user.ID, meta)

	return s.load(ctx, user.ID)
}

// AddMembership grants the user a membership in siteID. A user already
// counted in the site's tenant is not charged against the quota again.
func (s *Service) AddMembership(ctx context.Context, p *access.Principal, id, siteID string) (*models.User, error) {
	if siteID == "" {
		return nil, errors.InvalidInput(access.ReasonMissingSiteID)
	}
	user, target, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.CanEdit(p, target, nil); err != nil {
		return nil, err
	}
	if err := access.CanChangeMemberships(p, []string{siteID}, nil); err != nil {
		return nil, err
	}

	site, err := s.site(ctx, siteID)
	if err != nil {
		return nil, err
	}
	exists, err := s.memberships.Exists(ctx, site.ID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if exists {
		return nil, errors.Conflict(ReasonMembershipExists)
	}

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.ledger.WithTx(tx).EnforceMembership(ctx, site.TenantID, user.ID, target.Role); err != nil {
			return err
		}
		if err := s.memberships.WithTx(tx).Create(ctx, site.ID, user.ID, target.Role == models.RoleManager); err != nil {
			return translateWrite(err, "create membership")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, p.ID(), audit.ActionUserMembership, "user", user.ID, map[string]interface{}{"site_id": site.ID})
	return s.load(ctx, user.ID)
}

// Delete removes the user after detaching them from teams, tokens and
// memberships.
func (s *Service) Delete(ctx context.Context, p *access.Principal, id string) error {
	if id == p.ID() {
		return access.CanDelete(p, access.Target{ID: id, Role: p.Role()})
	}

	_, target, err := s.target(ctx, id)
	if err != nil {
		return err
	}
	if err := access.CanDelete(p, target); err != nil {
		return err
	}

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.teams.WithTx(tx).ClearManager(ctx, id); err != nil {
			return fmt.Errorf("clear team manager: %w", err)
		}
		users := s.users.WithTx(tx)
		if err := users.ClearPlacement(ctx, id); err != nil {
			return fmt.Errorf("clear placement: %w", err)
		}
		if err := s.tokens.WithTx(tx).DeleteByUser(ctx, id); err != nil {
			return fmt.Errorf("delete auth tokens: %w", err)
		}
		if err := s.memberships.WithTx(tx).DeleteByUser(ctx, id); err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		if err := users.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.Log(ctx, p.ID(), audit.ActionUserDelete, "user", id, map[string]interface{}{"role": target.Role.Name})
	return nil
}

// Stats reports quota usage for tenantID, defaulting to the tenant of the
// principal's primary site.
func (s *Service) Stats(ctx context.Context, p *access.Principal, tenantID string) (*quota.Stats, error) {
	if err := access.RequireManagerOrAbove(p); err != nil {
		return nil, err
	}

	if tenantID == "" && p.PrimarySiteID() != "" {
		tenant, err := s.tenants.GetBySite(ctx, p.PrimarySiteID())
		if err != nil {
			return nil, fmt.Errorf("load tenant: %w", err)
		}
		if tenant != nil {
			tenantID = tenant.ID
		}
	}
	if tenantID == "" {
		return nil, errors.InvalidInput("Missing tenantId")
	}

	if !p.IsAdminOrOwner() {
		member, err := s.memberships.IsUserInTenant(ctx, p.ID(), tenantID)
		if err != nil {
			return nil, fmt.Errorf("check tenant membership: %w", err)
		}
		if !member {
			return nil, errors.Forbidden(access.ReasonWrongSiteScope)
		}
	}
	return s.ledger.Stats(ctx, tenantID)
}

func (s *Service) target(ctx context.Context, id string) (*models.User, access.Target, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, access.Target{}, err
	}
	role, err := user.Role()
	if err != nil {
		return nil, access.Target{}, err
	}
	return user, access.Target{ID: user.ID, Role: role, SiteIDs: user.SiteIDs()}, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, errors.NotFound("User not found")
	}
	if user.Memberships, err = s.memberships.ListByUser(ctx, id); err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	return user, nil
}

func (s *Service) site(ctx context.Context, id string) (*models.Site, error) {
	return siteIn(ctx, s.sites, id)
}

// roleTenants lists the tenants a role change is charged against. With a
// primary site that is the site's tenant. Without one it is every tenant the
// user's memberships reach. An OWNER with neither is charged to the acting
// principal's tenants, and to every tenant when the principal has none.
func (s *Service) roleTenants(ctx context.Context, tx *sqlx.Tx, p *access.Principal, userID string, primary *string, role models.Role) ([]string, error) {
	sites := s.sites.WithTx(tx)
	if primary != nil {
		site, err := siteIn(ctx, sites, *primary)
		if err != nil {
			return nil, err
		}
		return []string{site.TenantID}, nil
	}

	memberships := s.memberships.WithTx(tx)
	tenantIDs, err := memberships.TenantIDsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user tenants: %w", err)
	}
	if len(tenantIDs) > 0 || role != models.RoleOwner {
		return tenantIDs, nil
	}

	if p.PrimarySiteID() != "" {
		site, err := sites.GetByID(ctx, p.PrimarySiteID())
		if err != nil {
			return nil, fmt.Errorf("load actor site: %w", err)
		}
		if site != nil {
			return []string{site.TenantID}, nil
		}
	}
	if tenantIDs, err = memberships.TenantIDsByUser(ctx, p.ID()); err != nil {
		return nil, fmt.Errorf("list actor tenants: %w", err)
	}
	if len(tenantIDs) > 0 {
		return tenantIDs, nil
	}

	tenants, err := s.tenants.WithTx(tx).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	for _, t := range tenants {
		tenantIDs = append(tenantIDs, t.ID)
	}
	return tenantIDs, nil
}

func siteIn(ctx context.Context, sites *repositories.SiteRepository, id string) (*models.Site, error) {
	site, err := sites.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load site: %w", err)
	}
	if site == nil {
		return nil, errors.NotFound("Site not found")
	}
	return site, nil
}

func (s *Service) checkTeam(ctx context.Context, teams *repositories.TeamRepository, teamID, siteID string) error {
	team, err := teams.GetByID(ctx, teamID)
	if err != nil {
		return fmt.Errorf("load team: %w", err)
	}
	if team == nil || team.SiteID != siteID {
		return errors.InvalidInput(ReasonTeamOutsideSite)
	}
	return nil
}

// checkAvailable fails with Conflict when username or email belongs to a
// user other than self.
func (s *Service) checkAvailable(ctx context.Context, username, email, self string) error {
	byName, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("check username: %w", err)
	}
	if byName != nil && byName.ID != self {
		return errors.Conflict(ReasonDuplicateAccount)
	}
	byEmail, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if byEmail != nil && byEmail.ID != self {
		return errors.Conflict(ReasonDuplicateAccount)
	}
	return nil
}

func translateWrite(err error, op string) error {
	if database.IsUniqueViolation(err) {
		return errors.Conflict(ReasonDuplicateAccount)
	}
	return fmt.Errorf("%s: %w", op, err)
}
