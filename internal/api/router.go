package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"taskflow/internal/api/handlers"
	"taskflow/internal/api/middleware"
	apiContext "taskflow/internal/api/context"
	"taskflow/internal/pkg/errors"
	"taskflow/internal/pkg/logger"
	"taskflow/internal/platform/config"
	"taskflow/internal/platform/metrics"
)

const maxBodyBytes = 1 << 20

type Dependencies struct {
	AuthHandler    *handlers.AuthHandler
	RoleHandler    *handlers.RoleHandler
	SiteHandler    *handlers.SiteHandler
	TeamHandler    *handlers.TeamHandler
	UserHandler    *handlers.UserHandler
	TenantHandler  *handlers.TenantHandler
	AuditHandler   *handlers.AuditHandler
	HealthHandler  *handlers.HealthHandler
	MetricsHandler *handlers.MetricsHandler
	AuthMiddleware *middleware.AuthMiddleware
	GlobalLimiter  *middleware.RateLimiter
	AuthLimiter    *middleware.RateLimiter
	CORS           config.CORSConfig
	// MetricsPath mounts the Prometheus endpoint; empty disables it.
	MetricsPath string
}

// NewRouter builds the route table and wraps it in the request-wide
// middleware: request logging, CORS, the global rate limit and the body cap.
func NewRouter(deps *Dependencies) http.Handler {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Not found", nil)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		logger.FromContext(r.Context()).Error().Interface("panic", v).Str("path", r.URL.Path).Msg("handler panicked")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal server error", nil)
	}

	authMid := deps.AuthMiddleware.Handle
	authLimit := deps.AuthLimiter.Handle

	// Operations
	router.GET("/healthz", route("/healthz", deps.HealthHandler.Live))
	router.GET("/readyz", route("/readyz", deps.HealthHandler.Ready))
	if deps.MetricsPath != "" && deps.MetricsHandler != nil {
		router.GET(deps.MetricsPath, wrap(deps.MetricsHandler.Export))
	}

	// Authentication routes
	router.POST("/api/auth/login", route("/api/auth/login", deps.AuthHandler.Login, authLimit))
	router.POST("/api/auth/refresh", route("/api/auth/refresh", deps.AuthHandler.Refresh, authLimit))
	router.POST("/api/auth/accept-invite", route("/api/auth/accept-invite", deps.AuthHandler.AcceptInvite, authLimit))
	router.POST("/api/auth/forgot-password", route("/api/auth/forgot-password", deps.AuthHandler.ForgotPassword, authLimit))
	router.POST("/api/auth/reset-password", route("/api/auth/reset-password", deps.AuthHandler.ResetPassword, authLimit))
	router.POST("/api/auth/logout-all", route("/api/auth/logout-all", deps.AuthHandler.LogoutAll, authMid))
	router.POST("/api/auth/change-password", route("/api/auth/change-password", deps.AuthHandler.ChangePassword, authLimit, authMid))

	// Account
	router.GET("/api/me", route("/api/me", deps.AuthHandler.Me, authMid))
	router.GET("/api/roles", route("/api/roles", deps.RoleHandler.List, authMid))

	// Sites
	router.GET("/api/sites", route("/api/sites", deps.SiteHandler.List, authMid))
	router.GET("/api/sites/:site_id", route("/api/sites/:site_id", deps.SiteHandler.Get, authMid))
	router.GET("/api/sites/:site_id/teams",
		route("/api/sites/:site_id/teams", deps.TeamHandler.List, authMid, middleware.SiteScope))
	router.POST("/api/admin/sites",
		route("/api/admin/sites", deps.SiteHandler.Create, authMid, middleware.RequireAdminOrOwner))
	router.PATCH("/api/admin/sites/:site_id/modules",
		route("/api/admin/sites/:site_id/modules", deps.SiteHandler.UpdateModules, authMid, middleware.RequireAdmin))
	router.DELETE("/api/admin/sites/:site_id",
		route("/api/admin/sites/:site_id", deps.SiteHandler.Delete, authMid, middleware.RequireAdminOrOwner, middleware.SiteScope))

	// Teams
	router.POST("/api/admin/sites/:site_id/teams",
		route("/api/admin/sites/:site_id/teams", deps.TeamHandler.Create, authMid, middleware.RequireAdminOrOwner, middleware.SiteScope))
	router.PATCH("/api/admin/teams/:team_id",
		route("/api/admin/teams/:team_id", deps.TeamHandler.Update, authMid, middleware.RequireAdminOrOwner))
	router.DELETE("/api/admin/teams/:team_id",
		route("/api/admin/teams/:team_id", deps.TeamHandler.Delete, authMid, middleware.RequireAdminOrOwner))

	// User management
	router.GET("/api/admin/users",
		route("/api/admin/users", deps.UserHandler.List, authMid, middleware.RequireManagerOrAbove))
	router.GET("/api/admin/users/:user_id",
		route("/api/admin/users/:user_id", deps.UserHandler.Get, authMid, middleware.RequireManagerOrAbove))
	router.GET("/api/admin/stats/users",
		route("/api/admin/stats/users", deps.UserHandler.Stats, authMid, middleware.RequireManagerOrAbove))
	router.POST("/api/admin/sites/:site_id/users",
		route("/api/admin/sites/:site_id/users", deps.UserHandler.Create, authMid, middleware.RequireManagerOrAbove, middleware.SiteScope))
	router.PATCH("/api/admin/users/:user_id",
		route("/api/admin/users/:user_id", deps.UserHandler.Update, authMid, middleware.RequireManagerOrAbove))
	router.DELETE("/api/admin/users/:user_id",
		route("/api/admin/users/:user_id", deps.UserHandler.Delete, authMid, middleware.RequireManagerOrAbove))
	router.POST("/api/admin/users/:user_id/memberships",
		route("/api/admin/users/:user_id/memberships", deps.UserHandler.AddMembership, authMid, middleware.RequireManagerOrAbove))
	router.POST("/api/admin/users/:user_id/resend-invite",
		route("/api/admin/users/:user_id/resend-invite", deps.UserHandler.ResendInvite, authMid, middleware.RequireManagerOrAbove))
	router.POST("/api/admin/users/:user_id/force-reset",
		route("/api/admin/users/:user_id/force-reset", deps.UserHandler.ForceReset, authMid, middleware.RequireManagerOrAbove))

	// Tenants
	router.GET("/api/admin/tenants",
		route("/api/admin/tenants", deps.TenantHandler.List, authMid, middleware.RequireAdmin))
	router.POST("/api/admin/tenants",
		route("/api/admin/tenants", deps.TenantHandler.Create, authMid, middleware.RequireAdmin))
	router.GET("/api/admin/tenants/:tenant_id",
		route("/api/admin/tenants/:tenant_id", deps.TenantHandler.Get, authMid, middleware.RequireAdmin))
	router.PATCH("/api/admin/tenants/:tenant_id",
		route("/api/admin/tenants/:tenant_id", deps.TenantHandler.Update, authMid, middleware.RequireAdmin))

	// Audit
	router.GET("/api/admin/audit-logs",
		route("/api/admin/audit-logs", deps.AuditHandler.List, authMid, middleware.RequireAdmin))

	var handler http.Handler = router
	handler = middleware.MaxBodyBytes(maxBodyBytes)(handler)
	if deps.GlobalLimiter != nil {
		handler = deps.GlobalLimiter.Middleware(handler)
	}
	handler = middleware.CORS(deps.CORS)(handler)
	handler = middleware.RequestLogger(handler)
	return handler
}

// route instruments a handler under its registered pattern and applies the
// given middlewares in order.
func route(pattern string, handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	return chain(handler, append([]func(http.HandlerFunc) http.HandlerFunc{metrics.Instrument(pattern)}, middlewares...)...)
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
