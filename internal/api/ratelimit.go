package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// clients idle this long are forgotten on the next prune
const limiterIdleTTL = 2 * time.Hour

// IPRateLimiter keeps one token bucket per client IP
type IPRateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	limit     rate.Limit
	burst     int
	lastPrune time.Time
	now       func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter allows n requests per window for every IP, refilled evenly.
func NewIPRateLimiter(n int, window time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		clients:   make(map[string]*client),
		limit:     rate.Every(window / time.Duration(n)),
		burst:     n,
		lastPrune: time.Now(),
		now:       time.Now,
	}
}

// Allow takes one token for ip. It returns the tokens left, or when denied,
// how long until the next token.
func (l *IPRateLimiter) Allow(ip string) (remaining int, retryAfter time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	c, exists := l.clients[ip]
	if !exists {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now

	if c.limiter.AllowN(now, 1) {
		return int(math.Floor(c.limiter.TokensAt(now))), 0, true
	}

	r := c.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return 0, delay, false
}

func (l *IPRateLimiter) prune(now time.Time) {
	if now.Sub(l.lastPrune) < limiterIdleTTL {
		return
	}
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(l.clients, ip)
		}
	}
	l.lastPrune = now
}

func rateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		remaining, retryAfter, ok := limiter.Allow(c.ClientIP())
		if !ok {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("X-Rate-Limit-Retry-After-Seconds", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"message": "Too many requests. Please try again later.",
			})
			return
		}

		c.Header("X-Rate-Limit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}
