package teams

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"taskflow/internal/engine/access"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/platform/audit"
	"taskflow/internal/platform/database"
	"taskflow/internal/platform/models"
	"taskflow/internal/platform/repositories"
)

const (
	ReasonTeamHasMembers   = "Team has members"
	ReasonDuplicateTeam    = "Team name already exists in this site"
	ReasonManagerOtherSite = "Manager not in the same site"
	ReasonManagerLacksRole = "User is not a manager/owner/admin"
	ReasonManagerNotFound  = "Manager not found"
	ReasonMissingTeamName  = "Missing name"
	reasonTeamNotFound     = "Team not found"
	reasonSiteNotFound     = "Site not found"
)

type Service struct {
	db          *sqlx.DB
	teams       *repositories.TeamRepository
	sites       *repositories.SiteRepository
	users       *repositories.UserRepository
	memberships *repositories.MembershipRepository
	audit       *audit.Logger
}

func NewService(db *sqlx.DB, auditLogger *audit.Logger) *Service {
	return &Service{
		db:          db,
		teams:       repositories.NewTeamRepository(db),
		sites:       repositories.NewSiteRepository(db),
		users:       repositories.NewUserRepository(db),
		memberships: repositories.NewMembershipRepository(db),
		audit:       auditLogger,
	}
}

func (s *Service) List(ctx context.Context, p *access.Principal, siteID string) ([]models.TeamSummary, error) {
	if err := access.ScopedToSite(p, siteID); err != nil {
		return nil, err
	}
	if err := s.siteExists(ctx, siteID); err != nil {
		return nil, err
	}
	teams, err := s.teams.ListBySite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	return teams, nil
}

func (s *Service) Create(ctx context.Context, p *access.Principal, siteID, name string, managerID *string) (*models.Team, error) {
	if err := access.RequireAdminOrOwner(p); err != nil {
		return nil, err
	}
	if err := access.ScopedToSite(p, siteID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.InvalidInput(ReasonMissingTeamName)
	}
	if err := s.siteExists(ctx, siteID); err != nil {
		return nil, err
	}

	team := &models.Team{SiteID: siteID, Name: name}
	if managerID != nil && *managerID != "" {
		if err := s.checkManager(ctx, siteID, *managerID); err != nil {
			return nil, err
		}
		team.ManagerID = managerID
	}

	if err := s.teams.Create(ctx, team); err != nil {
		return nil, translateWrite(err, "create team")
	}

	s.audit.Log(ctx, p.ID(), audit.ActionTeamCreate, "team", team.ID, map[string]interface{}{"site_id": siteID, "name": name})
	return team, nil
}

// UpdateInput renames a team or changes its manager; an empty ManagerID
// removes the manager.
type UpdateInput struct {
	Name      *string `json:"name"`
	ManagerID *string `json:"manager_id"`
}

func (s *Service) Update(ctx context.Context, p *access.Principal, id string, in UpdateInput) (*models.Team, error) {
	if err := access.RequireAdminOrOwner(p); err != nil {
		return nil, err
	}
	team, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.ScopedToSite(p, team.SiteID); err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, errors.InvalidInput(ReasonMissingTeamName)
		}
		team.Name = name
	}
	if in.ManagerID != nil {
		if *in.ManagerID == "" {
			team.ManagerID = nil
		} else {
			if err := s.checkManager(ctx, team.SiteID, *in.ManagerID); err != nil {
				return nil, err
			}
			team.ManagerID = in.ManagerID
		}
	}

	if err := s.teams.Update(ctx, team); err != nil {
		return nil, translateWrite(err, "update team")
	}

	s.audit.Log(ctx, p.ID(), audit.ActionTeamUpdate, "team", team.ID, map[string]interface{}{"name": team.Name, "manager_id": team.ManagerID})
	return team, nil
}

// Delete removes a team nobody is assigned to.
func (s *Service) Delete(ctx context.Context, p *access.Principal, id string) error {
	if err := access.RequireAdminOrOwner(p); err != nil {
		return err
	}
	team, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := access.ScopedToSite(p, team.SiteID); err != nil {
		return err
	}

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		members, err := s.users.WithTx(tx).CountInTeam(ctx, team.ID)
		if err != nil {
			return fmt.Errorf("count team members: %w", err)
		}
		if members > 0 {
			return errors.Conflict(ReasonTeamHasMembers)
		}
		if err := s.teams.WithTx(tx).Delete(ctx, team.ID); err != nil {
			return fmt.Errorf("delete team: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.Log(ctx, p.ID(), audit.ActionTeamDelete, "team", team.ID, map[string]interface{}{"site_id": team.SiteID, "name": team.Name})
	return nil
}

// checkManager requires a MANAGER, OWNER or ADMIN who is a member of the
// team's site.
func (s *Service) checkManager(ctx context.Context, siteID, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load manager: %w", err)
	}
	if user == nil {
		return errors.NotFound(ReasonManagerNotFound)
	}
	role, err := user.Role()
	if err != nil {
		return err
	}
	if !role.IsAdmin && !role.IsOwner && !role.IsManager {
		return errors.InvalidInput(ReasonManagerLacksRole)
	}
	member, err := s.memberships.Exists(ctx, siteID, userID)
	if err != nil {
		return fmt.Errorf("check manager membership: %w", err)
	}
	if !member {
		return errors.InvalidInput(ReasonManagerOtherSite)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Team, error) {
	team, err := s.teams.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load team: %w", err)
	}
	if team == nil {
		return nil, errors.NotFound(reasonTeamNotFound)
	}
	return team, nil
}

func (s *Service) siteExists(ctx context.Context, id string) error {
	site, err := s.sites.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load site: %w", err)
	}
	if site == nil {
		return errors.NotFound(reasonSiteNotFound)
	}
	return nil
}

func translateWrite(err error, op string) error {
	if database.IsUniqueViolation(err) {
		return errors.Conflict(ReasonDuplicateTeam)
	}
	return fmt.Errorf("%s: %w", op, err)
}
