package core

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"soilwatch/internal/types"
)

// RateLimit enforces the per-caller admission quota on the routes it
// wraps. Identity is derived from the configured identity header (the
// first address in a comma-separated list), falling back to the
// connection's remote address.
//
// If no Limiter is configured (e.g., during tests), the middleware
// passes through without limiting.
//
// Denied requests receive 429 with:
//   - Retry-After: seconds until a token is plausibly available.
//   - X-RateLimit-Limit: the window quota.
//   - X-RateLimit-Remaining: always 0 on denial.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		identity := callerIdentity(r, s.identityHeader())

		if !s.Limiter.Admit(identity) {
			s.Logger.Warn("rate limit exceeded",
				slog.String("identity", identity),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			quota, window := s.rateLimitQuota()
			retryAfter := int(window.Seconds()) / quota
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(quota))
			w.Header().Set("X-RateLimit-Remaining", "0")

			requestID := types.GetRequestID(r.Context())
			resp := APIErrorResponse{
				Error: ErrorDetail{
					Code:      string(types.ErrCodeRateLimit),
					Message:   "Rate limit exceeded. Please retry later.",
					RequestID: requestID,
				},
			}
			JSON(w, r, http.StatusTooManyRequests, resp)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) identityHeader() string {
	if s.Config != nil && s.Config.RateLimit.IdentityHeader != "" {
		return s.Config.RateLimit.IdentityHeader
	}
	return "X-Forwarded-For"
}

func (s *Server) rateLimitQuota() (int, time.Duration) {
	if s.Config != nil && s.Config.RateLimit.Requests > 0 {
		return s.Config.RateLimit.Requests, s.Config.RateLimit.Window
	}
	return 20, time.Minute
}

// callerIdentity resolves the rate-limit key for a request. When the
// identity header carries a forwarding chain, the first hop (the
// original client) wins.
func callerIdentity(r *http.Request, header string) string {
	if v := r.Header.Get(header); v != "" {
		if idx := strings.IndexByte(v, ','); idx >= 0 {
			v = v[:idx]
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
