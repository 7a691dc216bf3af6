package server

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	healthhandler "speech-to-text/backend/internal/health/handler"
	identityhandler "speech-to-text/backend/internal/identity/handler"
	jobhandler "speech-to-text/backend/internal/job/handler"
	"speech-to-text/backend/internal/metrics"
	"speech-to-text/backend/internal/server/middleware"
	"speech-to-text/backend/internal/telemetry"
)

// Deps holds the handlers and collaborators mounted by NewRouter.
type Deps struct {
	// Auth serves /register, /login and /logout. Required.
	Auth *identityhandler.Handler
	// Jobs serves /audio, /status, /result and /tasks. Required.
	Jobs *jobhandler.Handler
	// Sessions resolves the bearer token or cookie on protected routes. Required.
	Sessions middleware.SessionResolver
	// CookieName is the session cookie read by the auth middleware. Defaults to "session_id".
	CookieName string
	// Health serves /healthz and /readyz. If nil, a server without dependency checks is used.
	Health *healthhandler.Server
	// Metrics instruments every route and serves /metrics. If nil, /metrics is not mounted.
	Metrics *metrics.Metrics
	// Emitter receives one http_request event per request. If nil, no events are emitted.
	Emitter telemetry.EventEmitter
	// LoginLimiter throttles POST /login per client IP. If nil, login is not rate limited.
	LoginLimiter *middleware.IPRateLimiter
	// TrustedProxies are the peers whose forwarding headers set the client IP. If empty, the
	// connection's remote address is always used.
	TrustedProxies []netip.Prefix
}

// untracedPaths are excluded from request telemetry.
var untracedPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// NewRouter builds the HTTP route table.
//
// Route → handler mapping:
//   - POST /register, /login, /logout → internal/identity/handler
//   - POST /audio, GET /status, /result, /tasks → internal/job/handler
//   - GET /healthz, /readyz → internal/health/handler
//   - GET /metrics → internal/metrics
func NewRouter(deps Deps) http.Handler {
	cookieName := deps.CookieName
	if cookieName == "" {
		cookieName = "session_id"
	}
	health := deps.Health
	if health == nil {
		health = healthhandler.NewServer()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StoreClientIP(deps.TrustedProxies))
	r.Use(chimiddleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	if deps.Emitter != nil {
		r.Use(middleware.Telemetry(deps.Emitter, untracedPaths))
	}

	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Post("/register", deps.Auth.Register)
	if deps.LoginLimiter != nil {
		r.With(deps.LoginLimiter.Middleware).Post("/login", deps.Auth.Login)
	} else {
		r.Post("/login", deps.Auth.Login)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(deps.Sessions, cookieName))
		r.Post("/logout", deps.Auth.Logout)
		r.Post("/audio", deps.Jobs.Submit)
		r.Get("/status", deps.Jobs.Status)
		r.Get("/result", deps.Jobs.Result)
		r.Get("/tasks", deps.Jobs.List)
	})
	return r
}
