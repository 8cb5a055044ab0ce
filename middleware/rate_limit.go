package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// LoginAttempt tracks failed sign-in attempts from an IP
type LoginAttempt struct {
	Count    int
	FirstAt  time.Time
	LockedAt time.Time
	IsLocked bool
}

// LoginLimiter locks an IP out after too many failed sign-ins
type LoginLimiter struct {
	mu           sync.Mutex
	attempts     map[string]*LoginAttempt
	maxAttempts  int
	windowPeriod time.Duration
	lockDuration time.Duration
	now          func() time.Time
}

// NewLoginLimiter allows maxAttempts failures per window and then locks the
// IP for lockDuration.
func NewLoginLimiter(maxAttempts int, windowPeriod, lockDuration time.Duration) *LoginLimiter {
	return &LoginLimiter{
		attempts:     make(map[string]*LoginAttempt),
		maxAttempts:  maxAttempts,
		windowPeriod: windowPeriod,
		lockDuration: lockDuration,
		now:          time.Now,
	}
}

// Cleanup removes expired entries. The scheduler calls it periodically.
func (rl *LoginLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for ip, attempt := range rl.attempts {
		expired := false
		if attempt.IsLocked {
			expired = now.Sub(attempt.LockedAt) > rl.lockDuration
		} else {
			expired = now.Sub(attempt.FirstAt) > rl.windowPeriod
		}
		if expired {
			delete(rl.attempts, ip)
			removed++
		}
	}
	return removed
}

// Check reports whether ip may attempt a sign-in, how many attempts remain
// and, when blocked, how long until it may retry.
func (rl *LoginLimiter) Check(ip string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	attempt, exists := rl.attempts[ip]
	if !exists {
		return true, rl.maxAttempts, 0
	}

	if attempt.IsLocked {
		remaining := rl.lockDuration - now.Sub(attempt.LockedAt)
		if remaining > 0 {
			return false, 0, remaining
		}
		delete(rl.attempts, ip)
		return true, rl.maxAttempts, 0
	}

	if now.Sub(attempt.FirstAt) > rl.windowPeriod {
		delete(rl.attempts, ip)
		return true, rl.maxAttempts, 0
	}

	return true, rl.maxAttempts - attempt.Count, 0
}

// Record notes the outcome of a sign-in. Success clears the IP's history.
func (rl *LoginLimiter) Record(ip string, success bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if success {
		delete(rl.attempts, ip)
		return
	}

	now := rl.now()
	attempt, exists := rl.attempts[ip]
	if !exists || now.Sub(attempt.FirstAt) > rl.windowPeriod {
		attempt = &LoginAttempt{FirstAt: now}
		rl.attempts[ip] = attempt
	}

	attempt.Count++
	if attempt.Count >= rl.maxAttempts {
		attempt.IsLocked = true
		attempt.LockedAt = now
	}
}

// LoginRateLimit blocks locked-out IPs before the sign-in handler runs
func LoginRateLimit(rl *LoginLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, retryAfter := rl.Check(c.ClientIP())
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"message":     formatRateLimitError(retryAfter),
				"retry_after": int(retryAfter.Seconds()),
			})
			return
		}
		c.Next()
	}
}

func formatRateLimitError(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if minutes > 0 {
		return fmt.Sprintf("Too many failed sign-in attempts. Please try again in %d minute(s) and %d second(s).", minutes, seconds)
	}
	return fmt.Sprintf("Too many failed sign-in attempts. Please try again in %d second(s).", seconds)
}

// IPRateLimiter hands out a token bucket per client IP
type IPRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(perSecond float64, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		buckets: make(map[string]*ipBucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

func (l *IPRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = l.now()
	return b.limiter
}

// Cleanup drops buckets not used for idle and returns how many were removed.
// The scheduler calls it periodically.
func (l *IPRateLimiter) Cleanup(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for ip, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
			removed++
		}
	}
	return removed
}

// RateLimit rejects requests above the per-IP rate with 429
func RateLimit(l *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
			return
		}
		c.Next()
	}
}
