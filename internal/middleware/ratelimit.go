package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"storygate/internal/limiter"
)

// RateLimit rejects callers over their per-second budget. A redis outage
// lets traffic through.
func RateLimit(l *limiter.Limiter, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil || l.Redis == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), ClientFromContext(r.Context()))
			if err != nil {
				log.Warn("rate limiter unavailable", zap.Error(err))
			} else if !ok {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
