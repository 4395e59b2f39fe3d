package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

type Tenant struct {
	ID               string  `json:"id" db:"id"`
	Name             string  `json:"name" db:"name"`
	MaxSites         *int    `json:"max_sites" db:"max_sites"`
	MaxOwners        *int    `json:"max_owners" db:"max_owners"`
	MaxManagers      *int    `json:"max_managers" db:"max_managers"`
	MaxUsers         *int    `json:"max_users" db:"max_users"`
	AvailableModules Modules `json:"available_modules" db:"available_modules"`
	CreatedAt        int64   `json:"created_at" db:"created_at"`
	UpdatedAt        int64   `json:"updated_at" db:"updated_at"`
}

// LimitFor returns the population limit for role; nil means unlimited.
func (t *Tenant) LimitFor(role Role) *int {
	switch role {
	case RoleOwner:
		return t.MaxOwners
	case RoleManager:
		return t.MaxManagers
	case RoleUser:
		return t.MaxUsers
	}
	return nil
}

type Site struct {
	ID        string  `json:"id" db:"id"`
	TenantID  string  `json:"tenant_id" db:"tenant_id"`
	Name      string  `json:"name" db:"name"`
	Modules   Modules `json:"modules" db:"modules"`
	CreatedAt int64   `json:"created_at" db:"created_at"`
	UpdatedAt int64   `json:"updated_at" db:"updated_at"`
}

// SiteSummary is a site with its MANAGER and USER head counts.
type SiteSummary struct {
	ID            string `json:"id" db:"id"`
	TenantID      string `json:"tenant_id" db:"tenant_id"`
	Name          string `json:"name" db:"name"`
	ManagersCount int    `json:"managers_count" db:"managers_count"`
	UsersCount    int    `json:"users_count" db:"users_count"`
}

type Team struct {
	ID        string  `json:"id" db:"id"`
	SiteID    string  `json:"site_id" db:"site_id"`
	Name      string  `json:"name" db:"name"`
	ManagerID *string `json:"manager_id" db:"manager_id"`
	CreatedAt int64   `json:"created_at" db:"created_at"`
	UpdatedAt int64   `json:"updated_at" db:"updated_at"`
}

// TeamSummary is a team with its manager's username and member count.
type TeamSummary struct {
	Team
	ManagerUsername *string `json:"manager_username" db:"manager_username"`
	MembersCount    int     `json:"members_count" db:"members_count"`
}

type User struct {
	ID            string  `json:"id" db:"id"`
	Username      string  `json:"username" db:"username"`
	Email         string  `json:"email" db:"email"`
	FirstName     string  `json:"first_name" db:"first_name"`
	LastName      string  `json:"last_name" db:"last_name"`
	RoleID        string  `json:"role" db:"role_id"`
	PasswordHash  *string `json:"-" db:"password_hash"`
	IsActive      bool    `json:"is_active" db:"is_active"`
	MustChangePwd bool    `json:"must_change_pwd" db:"must_change_pwd"`
	PrimarySiteID *string `json:"primary_site_id" db:"primary_site_id"`
	TeamID        *string `json:"team_id" db:"team_id"`
	TokenVersion  int     `json:"-" db:"token_version"`
	LastLoginAt   *int64  `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt     int64   `json:"created_at" db:"created_at"`
	UpdatedAt     int64   `json:"updated_at" db:"updated_at"`

	// Joined from roles.
	RoleName      string `json:"-" db:"role_name"`
	RoleIsAdmin   bool   `json:"-" db:"role_is_admin"`
	RoleIsOwner   bool   `json:"-" db:"role_is_owner"`
	RoleIsManager bool   `json:"-" db:"role_is_manager"`

	Memberships []SiteMembership `json:"memberships,omitempty" db:"-"`
}

// Role resolves the joined role row into its canonical singleton. A stored
// flag combination that disagrees with the name is rejected.
func (u *User) Role() (Role, error) {
	name := u.RoleName
	if name == "" {
		name = u.RoleID
	}
	role, err := ParseRole(name)
	if err != nil {
		return Role{}, err
	}
	if u.RoleName != "" {
		stored := Role{Name: role.Name, IsAdmin: u.RoleIsAdmin, IsOwner: u.RoleIsOwner, IsManager: u.RoleIsManager}
		if stored != role {
			return Role{}, fmt.Errorf("role %s has inconsistent capability flags", role.Name)
		}
	}
	return role, nil
}

// HasPassword reports whether the user completed activation.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Usable is the activation gate: active and holding a password.
func (u *User) Usable() bool {
	return u.IsActive && u.HasPassword()
}

// SiteIDs lists the sites of the loaded memberships.
func (u *User) SiteIDs() []string {
	ids := make([]string, 0, len(u.Memberships))
	for _, m := range u.Memberships {
		ids = append(ids, m.SiteID)
	}
	return ids
}

type SiteMembership struct {
	ID        string `json:"id" db:"id"`
	SiteID    string `json:"site_id" db:"site_id"`
	UserID    string `json:"user_id" db:"user_id"`
	IsManager bool   `json:"is_manager" db:"is_manager"`
	CreatedAt int64  `json:"created_at" db:"created_at"`

	SiteName string `json:"site_name,omitempty" db:"site_name"`
	TenantID string `json:"tenant_id,omitempty" db:"tenant_id"`
}

type TokenType string

const (
	TokenInvite TokenType = "INVITE"
	TokenReset  TokenType = "RESET"
)

type AuthToken struct {
	ID        string    `json:"id" db:"id"`
	Type      TokenType `json:"type" db:"type"`
	UserID    string    `json:"user_id" db:"user_id"`
	TokenHash string    `json:"-" db:"token_hash"`
	ExpiresAt int64     `json:"expires_at" db:"expires_at"`
	UsedAt    *int64    `json:"used_at,omitempty" db:"used_at"`
	Meta      Meta      `json:"meta,omitempty" db:"meta"`
	CreatedAt int64     `json:"created_at" db:"created_at"`
}

func (t *AuthToken) IsUsed() bool {
	return t.UsedAt != nil
}

func (t *AuthToken) IsExpired(now int64) bool {
	return t.ExpiresAt <= now
}

// Modules is a feature-toggle map stored as JSON text.
type Modules map[string]bool

// Value implements the driver.Valuer interface for Modules
func (m Modules) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for Modules
func (m *Modules) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*m = Modules{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// Subset reports the first key of m that is not enabled in available, if any.
func (m Modules) Subset(available Modules) (string, bool) {
	for k := range m {
		if !available[k] {
			return k, false
		}
	}
	return "", true
}

// Clone returns an independent copy; a nil map clones to an empty one.
func (m Modules) Clone() Modules {
	out := make(Modules, len(m))
	for k, on := range m {
		out[k] = on
	}
	return out
}

// Meta is free-form token metadata stored as JSON text.
type Meta map[string]string

// Value implements the driver.Valuer interface for Meta
func (m Meta) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for Meta
func (m *Meta) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*m = Meta{}
		return nil
	}
	return json.Unmarshal(b, m)
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, errors.New("unsupported type for JSON column")
}
