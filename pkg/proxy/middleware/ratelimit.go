package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"llamachat-hq/relay/pkg/limits"
	"llamachat-hq/relay/pkg/proxy"
	"llamachat-hq/relay/pkg/proxy/types"
)

// LoginRateLimit throttles credential endpoints per client IP. A refused
// request gets 429 with Retry-After in whole seconds.
func LoginRateLimit(limiter *limits.KeyedLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := proxy.ClientIP(r)
			ok, retryAfter := limiter.Reserve(ip)
			if !ok {
				slog.WarnContext(r.Context(), "login rate limit exceeded",
					"client_ip", ip,
					"path", r.URL.Path,
				)
				secs := int(math.Ceil(retryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				_ = proxy.WriteErrorResponse(w, types.NewTooManyRequestsError(
					"Too many login attempts. Please try again later.",
				))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
