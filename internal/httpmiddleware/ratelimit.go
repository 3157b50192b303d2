package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const idleEviction = 10 * time.Minute

// IPLimiter keeps one token bucket per client IP.
type IPLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*visitor
	swept   time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPLimiter allows perMinute requests per IP with a burst of the same size.
// perMinute <= 0 disables limiting.
func NewIPLimiter(perMinute int) *IPLimiter {
	l := &IPLimiter{
		limit:   rate.Inf,
		burst:   perMinute,
		now:     time.Now,
		clients: make(map[string]*visitor),
	}
	if perMinute > 0 {
		l.limit = rate.Limit(float64(perMinute) / 60)
	}
	return l
}

// Allow reports whether ip may make a request now.
func (l *IPLimiter) Allow(ip string) bool {
	if l.limit == rate.Inf {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.swept) > idleEviction {
		for key, v := range l.clients {
			if now.Sub(v.lastSeen) > idleEviction {
				delete(l.clients, key)
			}
		}
		l.swept = now
	}
	v, ok := l.clients[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// GinMiddleware rejects over-limit clients with 429.
func (l *IPLimiter) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.Allow(ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}
