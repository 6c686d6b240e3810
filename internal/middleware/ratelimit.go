package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"showcase/internal/ratelimit"
)

// RateLimit admits requests through limiter keyed by client address. Rejected
// requests get 429 with Retry-After. Limiter errors fail open so an
// unavailable shared backend does not take uploads down.
func RateLimit(limiter ratelimit.Limiter, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ratelimit.ClientKey(r)
			decision, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn().Err(err).Str("client", key).Str("request_id", RequestIDFromContext(r.Context())).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				retry := strconv.Itoa(decision.RetryAfterSeconds)
				w.Header().Set("Retry-After", retry)
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":               "rate_limited",
					"message":             "Rate limit exceeded. Try again in " + retry + " seconds.",
					"retry_after_seconds": decision.RetryAfterSeconds,
				})
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}
