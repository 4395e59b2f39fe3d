package handlers

import (
	"net/http"

	"taskflow/internal/engine/teams"
)

type TeamHandler struct {
	teams *teams.Service
}

func NewTeamHandler(svc *teams.Service) *TeamHandler {
	return &TeamHandler{teams: svc}
}

func (h *TeamHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.teams.List(r.Context(), principal(r), param(r, "site_id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

type CreateTeamRequest struct {
	Name      string  `json:"name"`
	ManagerID *string `json:"manager_id"`
}

func (h *TeamHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTeamRequest
	if !decode(w, r, &req) {
		return
	}

	team, err := h.teams.Create(r.Context(), principal(r), param(r, "site_id"), req.Name, req.ManagerID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, team)
}

func (h *TeamHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req teams.UpdateInput
	if !decode(w, r, &req) {
		return
	}

	team, err := h.teams.Update(r.Context(), principal(r), param(r, "team_id"), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, team)
}

func (h *TeamHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.teams.Delete(r.Context(), principal(r), param(r, "team_id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
