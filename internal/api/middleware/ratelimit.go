package middleware

import (
	"sync"
	"time"

	apperrors "github.com/asoloa/ambot/internal/errors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused per-client limiter is kept.
const idleLimiterTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per client IP.
type RateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter allows perMinute requests per client with the given burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = perMinute
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow consumes one token for key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > idleLimiterTTL {
		for k, cl := range rl.clients {
			if now.Sub(cl.lastSeen) > idleLimiterTTL {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	cl, ok := rl.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// Middleware rejects requests over the limit with 429. Preflight requests pass.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "OPTIONS" || rl.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		log.WithField("client_ip", c.ClientIP()).Warn("client rate limit exceeded")
		abortWith(c, apperrors.RateLimited(nil))
	}
}
