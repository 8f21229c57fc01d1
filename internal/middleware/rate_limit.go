package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
)

// RateLimiter caps requests per client over a fixed window
type RateLimiter struct {
	logger *logger.Logger

	mutex       sync.Mutex
	buckets     map[string]*bucket
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

// bucket tracks one client's remaining requests in the current window
type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter creates a limiter from server.rate_limit (requests per minute).
// Zero disables limiting.
func NewRateLimiter(cfg *config.Config, logger *logger.Logger) *RateLimiter {
	return &RateLimiter{
		logger:      logger,
		buckets:     make(map[string]*bucket),
		maxRequests: cfg.Server.RateLimit,
		window:      time.Minute,
		now:         time.Now,
	}
}

// Allow consumes a token for clientID
func (rl *RateLimiter) Allow(clientID string) bool {
	if rl.maxRequests <= 0 {
		return true
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	b, exists := rl.buckets[clientID]
	if !exists || now.Sub(b.lastRefill) >= rl.window {
		b = &bucket{tokens: rl.maxRequests, lastRefill: now}
		rl.buckets[clientID] = b
		rl.evict(now)
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// evict drops buckets idle for more than ten windows
func (rl *RateLimiter) evict(now time.Time) {
	cutoff := now.Add(-10 * rl.window)
	for clientID, b := range rl.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(rl.buckets, clientID)
		}
	}
}

// Limit rejects requests over the limit with 429
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientID(r)
		if !rl.Allow(client) {
			rl.logger.WithField("client", client).
				WithField("path", r.URL.Path).
				Warn("Rate limit exceeded")
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
