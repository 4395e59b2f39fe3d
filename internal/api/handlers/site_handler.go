package handlers

import (
	"net/http"

	"taskflow/internal/engine/sites"
	"taskflow/internal/platform/models"
)

type SiteHandler struct {
	sites *sites.Service
}

func NewSiteHandler(svc *sites.Service) *SiteHandler {
	return &SiteHandler{sites: svc}
}

func (h *SiteHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.sites.List(r.Context(), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (h *SiteHandler) Get(w http.ResponseWriter, r *http.Request) {
	site, err := h.sites.Get(r.Context(), principal(r), param(r, "site_id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, site)
}

type CreateSiteRequest struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

func (h *SiteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSiteRequest
	if !decode(w, r, &req) {
		return
	}

	site, err := h.sites.Create(r.Context(), principal(r), req.TenantID, req.Name)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, site)
}

type UpdateModulesRequest struct {
	Modules models.Modules `json:"modules"`
}

func (h *SiteHandler) UpdateModules(w http.ResponseWriter, r *http.Request) {
	var req UpdateModulesRequest
	if !decode(w, r, &req) {
		return
	}

	site, err := h.sites.UpdateModules(r.Context(), principal(r), param(r, "site_id"), req.Modules)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, site)
}

func (h *SiteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.sites.Delete(r.Context(), principal(r), param(r, "site_id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
