package middleware

import (
	"net/http"

	"taskflow/internal/engine/access"
	"taskflow/internal/pkg/errors"
)

// Require rejects the request unless guard accepts the resolved principal.
// It must run after AuthMiddleware.Handle.
func Require(guard func(*access.Principal) error) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFrom(r.Context())
			if p == nil {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Unauthorized", nil)
				return
			}
			if err := guard(p); err != nil {
				errors.Write(w, r, err)
				return
			}
			next(w, r)
		}
	}
}

var (
	RequireAdmin          = Require(access.RequireAdmin)
	RequireAdminOrOwner   = Require(access.RequireAdminOrOwner)
	RequireManagerOrAbove = Require(access.RequireManagerOrAbove)
)
