/**
 * @description
 * Request rate limiting middleware for the authenticated API. Each caller, keyed by
 * user id when known and by client IP otherwise, gets a token bucket.
 */
package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter keeps one token bucket per caller.
type RateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*tokenBucket
	capacity    float64
	perSecond   float64
	idleTimeout time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter creates a limiter refilling perSecond tokens up to burst.
func NewRateLimiter(perSecond, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < perSecond {
		burst = perSecond
	}
	return &RateLimiter{
		buckets:     make(map[string]*tokenBucket),
		capacity:    float64(burst),
		perSecond:   float64(perSecond),
		idleTimeout: 10 * time.Minute,
		now:         time.Now,
		stop:        make(chan struct{}),
	}
}

// Allow consumes a token for key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: rl.capacity, lastSeen: now}
		rl.buckets[key] = bucket
	}
	elapsed := now.Sub(bucket.lastSeen).Seconds()
	if elapsed > 0 {
		bucket.tokens = min(rl.capacity, bucket.tokens+elapsed*rl.perSecond)
	}
	bucket.lastSeen = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// StartCleanup evicts idle buckets until Stop is called.
func (rl *RateLimiter) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.evictIdle()
			case <-rl.stop:
				return
			}
		}
	}()
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, bucket := range rl.buckets {
		if now.Sub(bucket.lastSeen) > rl.idleTimeout {
			delete(rl.buckets, key)
		}
	}
}

// RateLimitMiddleware rejects callers that exhausted their bucket with 429.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetUserIDFromContext(r.Context())
			if key == "" {
				key = "ip:" + clientIP(r)
			}
			if !rl.Allow(key) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "message": "Rate limit exceeded. Please try again later."})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client IP, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
