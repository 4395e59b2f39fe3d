package models

import (
	"strings"

	"taskflow/internal/pkg/errors"
)

// Role is a fixed capability bundle. Only the four singletons below exist.
type Role struct {
	Name      string `json:"name"`
	IsAdmin   bool   `json:"is_admin"`
	IsOwner   bool   `json:"is_owner"`
	IsManager bool   `json:"is_manager"`
}

var (
	RoleAdmin   = Role{Name: "ADMIN", IsAdmin: true}
	RoleOwner   = Role{Name: "OWNER", IsOwner: true}
	RoleManager = Role{Name: "MANAGER", IsManager: true}
	RoleUser    = Role{Name: "USER"}
)

// Roles lists the fixed roles in display order.
var Roles = []Role{RoleAdmin, RoleOwner, RoleManager, RoleUser}

// ParseRole resolves a role name case-insensitively.
func ParseRole(name string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case RoleAdmin.Name:
		return RoleAdmin, nil
	case RoleOwner.Name:
		return RoleOwner, nil
	case RoleManager.Name:
		return RoleManager, nil
	case RoleUser.Name:
		return RoleUser, nil
	}
	return Role{}, errors.ErrInvalidRole
}

// Label is the human form used in quota messages ("Manager quota reached").
func (r Role) Label() string {
	if r.Name == "" {
		return ""
	}
	return r.Name[:1] + strings.ToLower(r.Name[1:])
}

// Quotaed reports whether the role is subject to tenant population limits.
func (r Role) Quotaed() bool {
	return r == RoleOwner || r == RoleManager || r == RoleUser
}

func (r Role) String() string {
	return r.Name
}
