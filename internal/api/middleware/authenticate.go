package middleware

import (
	"context"
	"net/http"
	"strings"

	apiContext "taskflow/internal/api/context"
	"taskflow/internal/engine/access"
	"taskflow/internal/engine/identity"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/pkg/logger"
)

type AuthMiddleware struct {
	resolver *identity.Resolver
}

func NewAuthMiddleware(resolver *identity.Resolver) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver}
}

// Handle resolves the bearer token into a Principal on every request.
func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing authorization header", nil)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid authorization header format", nil)
			return
		}

		principal, err := m.resolver.Resolve(r.Context(), parts[1])
		if err != nil {
			errors.Write(w, r, err)
			return
		}

		l := logger.FromContext(r.Context()).With().Str("user_id", principal.ID()).Logger()
		ctx := context.WithValue(r.Context(), apiContext.Principal, principal)
		ctx = logger.WithContext(ctx, l)
		next(w, r.WithContext(ctx))
	}
}

// PrincipalFrom returns the principal stored by Handle, or nil.
func PrincipalFrom(ctx context.Context) *access.Principal {
	p, _ := ctx.Value(apiContext.Principal).(*access.Principal)
	return p
}
