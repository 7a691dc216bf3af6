package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"speech-to-text/backend/internal/telemetry"
	"speech-to-text/backend/internal/telemetry/domain"
)

// httpRequestMetadata is the JSON shape stored in Event.Metadata for http_request events.
type httpRequestMetadata struct {
	Method     string `json:"method"`
	Route      string `json:"route"`
	StatusCode int    `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
	RequestID  string `json:"request_id,omitempty"`
}

// Telemetry emits an http_request event after each request. Best-effort and asynchronous.
// If emitter is nil the middleware is a pass-through. skipPaths are route patterns to not emit.
func Telemetry(emitter telemetry.EventEmitter, skipPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if emitter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			// The session is attached by an inner middleware, so capture it through a holder.
			holder := &sessionHolder{}
			next.ServeHTTP(ww, r.WithContext(withSessionHolder(r.Context(), holder)))

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			if skipPaths[route] {
				return
			}
			clientIP := ClientIP(r.Context())
			if clientIP == "" {
				clientIP = RequestIP(r, nil)
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := domain.NewEvent(domain.EventHTTPRequest, "http_middleware", httpRequestMetadata{
				Method:     r.Method,
				Route:      route,
				StatusCode: status,
				DurationMs: time.Since(start).Milliseconds(),
				ClientIP:   clientIP,
				RequestID:  chimw.GetReqID(r.Context()),
			})
			if s := holder.session; s != nil {
				ev.UserID = s.UserID
				ev.SessionID = s.ID
			}
			telemetry.EmitAsync(emitter, ev)
		})
	}
}
