package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// RequestIP returns the client IP of r, or "unknown" when none is usable.
//
// X-Forwarded-For and X-Real-IP are read only when the direct peer falls inside trusted. The
// forwarded chain is walked right to left and the first hop that is not itself a trusted proxy
// wins, so a client cannot choose its own address by prepending entries.
func RequestIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if peer == "" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil || !containsAddr(trusted, addr) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				return peer
			}
			if !containsAddr(trusted, hop) || i == 0 {
				return hop.Unmap().String()
			}
		}
	}
	if v, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return v.Unmap().String()
	}
	return peer
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// StoreClientIP puts RequestIP into the request context for audit, telemetry and rate limiting.
func StoreClientIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), RequestIP(r, trusted))))
		})
	}
}
