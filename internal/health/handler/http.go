// Package handler serves the liveness and readiness endpoints.
package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"speech-to-text/backend/internal/platform/httpx"
)

const checkTimeout = 2 * time.Second

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is implemented by the OPA evaluator.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc reports a dependency as healthy by returning nil.
type CheckFunc func(ctx context.Context) error

// Server serves /healthz and /readyz.
type Server struct {
	checks map[string]CheckFunc
}

// NewServer returns a Server with no dependency checks; add them with AddCheck.
func NewServer() *Server {
	return &Server{checks: make(map[string]CheckFunc)}
}

// AddCheck registers a readiness check. A nil fn is ignored.
func (s *Server) AddCheck(name string, fn CheckFunc) *Server {
	if fn != nil {
		s.checks[name] = fn
	}
	return s
}

// AddPinger registers p under name. A nil p is ignored.
func (s *Server) AddPinger(name string, p Pinger) *Server {
	if p == nil {
		return s
	}
	return s.AddCheck(name, p.PingContext)
}

// AddPolicy registers the policy engine check. A nil c is ignored.
func (s *Server) AddPolicy(c PolicyChecker) *Server {
	if c == nil {
		return s
	}
	return s.AddCheck("policy", c.HealthCheck)
}

// ReadinessReport is the /readyz body.
type ReadinessReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Healthz reports that the process is serving.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteText(w, http.StatusOK, "ok")
}

// Readyz runs every check with a short timeout and responds 503 if any fails.
func (s *Server) Readyz(w http.ResponseWriter, r *http.Request) {
	report := ReadinessReport{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := s.checks[name](ctx)
		cancel()
		if err != nil {
			log.Warn("health: check failed", "check", name, "err", err)
			report.Checks[name] = "unavailable"
			report.Status = "unavailable"
			continue
		}
		report.Checks[name] = "ok"
	}
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, report)
}
