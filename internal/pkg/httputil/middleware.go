package httputil

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware applies a global token-bucket limit to the status
// server. The field unit has a single operator; anything past a modest
// request rate is a scraper or a bug.
func RateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				Error(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
