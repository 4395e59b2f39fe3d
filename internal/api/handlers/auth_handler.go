package handlers

import (
	"net/http"

	"taskflow/internal/engine/credentials"
	"taskflow/internal/engine/identity"
	"taskflow/internal/platform/models"
)

type AuthHandler struct {
	authn    *identity.Authenticator
	workflow *credentials.Workflow
}

func NewAuthHandler(authn *identity.Authenticator, workflow *credentials.Workflow) *AuthHandler {
	return &AuthHandler{authn: authn, workflow: workflow}
}

type LoginRequest struct {
	// Login is a username or an email address.
	Login    string `json:"login"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	login := req.Login
	if login == "" {
		login = req.Email
	}
	if login == "" {
		login = req.Username
	}

	session, err := h.authn.Login(r.Context(), login, req.Password)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, session)
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decode(w, r, &req) {
		return
	}

	session, err := h.authn.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, session)
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := h.authn.LogoutEverywhere(r.Context(), principal(r)); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}

	session, err := h.authn.ChangePassword(r.Context(), principal(r), req.CurrentPassword, req.NewPassword)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, session)
}

type RedeemRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *AuthHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	h.redeem(w, r, models.TokenInvite)
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	h.redeem(w, r, models.TokenReset)
}

func (h *AuthHandler) redeem(w http.ResponseWriter, r *http.Request, typ models.TokenType) {
	var req RedeemRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.workflow.Redeem(r.Context(), req.Token, req.Password, typ); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword answers the same way whether or not the address exists.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.workflow.IssueReset(r.Context(), req.Email); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.authn.Profile(r.Context(), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, profile)
}
