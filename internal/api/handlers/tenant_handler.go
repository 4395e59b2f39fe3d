package handlers

import (
	"net/http"

	"taskflow/internal/engine/tenants"
)

type TenantHandler struct {
	tenants *tenants.Service
}

func NewTenantHandler(svc *tenants.Service) *TenantHandler {
	return &TenantHandler{tenants: svc}
}

func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.tenants.List(r.Context(), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.tenants.Get(r.Context(), principal(r), param(r, "tenant_id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, tenant)
}

func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req tenants.CreateInput
	if !decode(w, r, &req) {
		return
	}

	tenant, err := h.tenants.Create(r.Context(), principal(r), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, tenant)
}

// Update patches a tenant; a limit sent as null becomes unlimited.
func (h *TenantHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req tenants.UpdateInput
	if !decode(w, r, &req) {
		return
	}

	tenant, err := h.tenants.Update(r.Context(), principal(r), param(r, "tenant_id"), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, tenant)
}
