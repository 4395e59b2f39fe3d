package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "taskflow/internal/api/context"
	"taskflow/internal/engine/access"
	"taskflow/internal/pkg/errors"
)

// maxScopeBody bounds how much of a request body the scope guard will buffer
// when looking for a site_id.
const maxScopeBody = 1 << 20

// SiteScope picks the target site from the :site_id path parameter, the JSON
// body's site_id, the site_id query parameter or the principal's primary site,
// in that order, and requires the principal to be allowed on it. The resolved
// id is stored under apiContext.SiteID.
func SiteScope(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFrom(r.Context())
		if p == nil {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Unauthorized", nil)
			return
		}

		var path string
		if ps, ok := r.Context().Value(apiContext.Params).(httprouter.Params); ok {
			path = ps.ByName("site_id")
		}

		body, err := bodySiteID(r)
		if err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
			return
		}

		siteID := access.ResolveSiteTarget(path, body, r.URL.Query().Get("site_id"), p.PrimarySiteID())
		if err := access.ScopedToSite(p, siteID); err != nil {
			errors.Write(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.SiteID, siteID)
		next(w, r.WithContext(ctx))
	}
}

// bodySiteID peeks at a JSON body for site_id and restores the body for the
// handler. Non-JSON and empty bodies yield "".
func bodySiteID(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxScopeBody))
	if err != nil {
		return "", err
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))

	if len(bytes.TrimSpace(raw)) == 0 {
		return "", nil
	}
	var probe struct {
		SiteID string `json:"site_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		// The handler reports malformed bodies itself.
		return "", nil
	}
	return probe.SiteID, nil
}

// SiteIDFrom returns the site resolved by SiteScope.
func SiteIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(apiContext.SiteID).(string)
	return id
}
