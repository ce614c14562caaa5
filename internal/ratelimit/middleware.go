package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// limiting for that request.
type KeyFunc func(r *http.Request) string

// DenyFunc writes the response for a throttled request.
type DenyFunc func(w http.ResponseWriter, r *http.Request)

// Middleware enforces limiter on every request keyed by keyFunc. Limiter
// errors are logged and the request is let through. retryAfter, in seconds,
// is sent on denial when positive.
func Middleware(limiter Limiter, keyFunc KeyFunc, retryAfter int, deny DenyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if limiter == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("ratelimit: limiter error, allowing request", "error", err, "key", key)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				}
				deny(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyFunc keys requests by the host part of RemoteAddr. X-Forwarded-For
// is not trusted; any client can set it.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return "ip:" + host
}
