package http

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

const maxTrackedLimiters = 10000

// RateLimiter throttles authenticated callers by subject, falling back to
// the client address before authentication has run.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxTrackedLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := actorFromContext(r.Context()).SubjectID
		if key == "" {
			key = readIP(r)
		}
		if !rl.limiter(key).Allow() {
			httpLogger().WarnContext(r.Context(), "rate limit exceeded",
				"operation", "rate_limit",
				"outcome", "rejected",
				"key", key,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestIDFromContext(r.Context()),
			)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate-limited", "too many requests", requestIDFromContext(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}
