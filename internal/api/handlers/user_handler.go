package handlers

import (
	"net/http"

	"taskflow/internal/engine/credentials"
	"taskflow/internal/engine/users"
)

type UserHandler struct {
	users    *users.Service
	workflow *credentials.Workflow
}

func NewUserHandler(svc *users.Service, workflow *credentials.Workflow) *UserHandler {
	return &UserHandler{users: svc, workflow: workflow}
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.List(r.Context(), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), principal(r), param(r, "user_id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, user)
}

// Stats reports quota usage for ?tenant_id=, defaulting to the caller's tenant.
func (h *UserHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.users.Stats(r.Context(), principal(r), r.URL.Query().Get("tenant_id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req users.CreateInput
	if !decode(w, r, &req) {
		return
	}

	created, err := h.users.Create(r.Context(), principal(r), param(r, "site_id"), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req users.UpdateInput
	if !decode(w, r, &req) {
		return
	}

	user, err := h.users.Update(r.Context(), principal(r), param(r, "user_id"), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, user)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Delete(r.Context(), principal(r), param(r, "user_id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type AddMembershipRequest struct {
	SiteID string `json:"site_id"`
}

func (h *UserHandler) AddMembership(w http.ResponseWriter, r *http.Request) {
	var req AddMembershipRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.users.AddMembership(r.Context(), principal(r), param(r, "user_id"), req.SiteID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, user)
}

func (h *UserHandler) ResendInvite(w http.ResponseWriter, r *http.Request) {
	issued, err := h.workflow.ResendInvite(r.Context(), principal(r), param(r, "user_id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, issued)
}

func (h *UserHandler) ForceReset(w http.ResponseWriter, r *http.Request) {
	issued, err := h.workflow.ForceReset(r.Context(), principal(r), param(r, "user_id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, issued)
}
