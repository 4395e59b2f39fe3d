package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "taskflow/internal/api/context"
	"taskflow/internal/api/middleware"
	"taskflow/internal/engine/access"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/pkg/logger"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(r.Context()).Warn().Err(err).Msg("failed to encode response")
	}
}

// decode reads a JSON body into v, writing the 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return false
	}
	return true
}

// fail renders err; unexpected failures are logged with the request's logger.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	errors.Write(w, r, err)
}

func param(r *http.Request, name string) string {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return ps.ByName(name)
}

func principal(r *http.Request) *access.Principal {
	return middleware.PrincipalFrom(r.Context())
}
