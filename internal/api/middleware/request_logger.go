package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	apiContext "taskflow/internal/api/context"
	"taskflow/internal/pkg/logger"
	"taskflow/internal/pkg/parser"
	"taskflow/internal/platform/audit"
)

const requestIDHeader = "X-Request-ID"

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *responseRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// RequestLogger assigns a request id, attaches a request-scoped logger and
// the audit client details to the context, and logs one line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = ulid.Make().String()
		}
		w.Header().Set(requestIDHeader, requestID)

		ip := ClientIP(r)
		l := log.Logger.With().Str("request_id", requestID).Logger()

		ctx := context.WithValue(r.Context(), apiContext.RequestID, requestID)
		ctx = logger.WithContext(ctx, l)
		ctx = audit.WithClient(ctx, ip, r.UserAgent())

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		event := l.Info()
		if rec.status >= http.StatusInternalServerError {
			event = l.Error()
		} else if rec.status >= http.StatusBadRequest {
			event = l.Warn()
		}
		client := parser.ParseUserAgent(r.UserAgent())
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Str("ip", ip).
			Str("client_os", client.OS).
			Str("client_browser", client.Browser).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
