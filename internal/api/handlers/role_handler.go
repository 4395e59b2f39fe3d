package handlers

import (
	"net/http"

	"taskflow/internal/platform/models"
)

type RoleHandler struct{}

func NewRoleHandler() *RoleHandler {
	return &RoleHandler{}
}

func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(models.Roles))
	for _, role := range models.Roles {
		names = append(names, role.Name)
	}
	writeJSON(w, r, http.StatusOK, names)
}
