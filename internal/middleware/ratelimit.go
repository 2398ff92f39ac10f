package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"ucp-checkout/internal/metrics"
	"ucp-checkout/internal/model"
	"ucp-checkout/internal/ratelimit"
)

// RateLimit rejects callers over their token bucket with 429.
// Callers are keyed by X-API-Key, else by remote host.
// Health and metrics endpoints are never limited. A nil limiter disables the check.
func RateLimit(limiter *ratelimit.KeyedLimiter, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/health", "/healthz", "/metrics":
				next.ServeHTTP(w, r)
				return
			}

			key := callerKey(r)
			if !limiter.Allow(key, time.Now()) {
				m.RateLimited()
				logger.WarnContext(r.Context(), "rate limited",
					slog.String("path", r.URL.Path),
					slog.String("caller", key),
				)
				w.Header().Set("Retry-After", "1")
				WriteError(w, model.NewRateLimitError("request"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if md := MetadataFromContext(r.Context()); md.APIKey != "" {
		return "key:" + md.APIKey
	}
	if k := r.Header.Get(HeaderAPIKey); k != "" {
		return "key:" + k
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
