package middlewares

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru"
)

// maxTrackedClients bounds limiter memory; the least recently seen client
// is forgotten first, which at worst hands it a fresh window.
const maxTrackedClients = 10000

// RateLimiter is a fixed window counter per key.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets *lru.Cache
	now     func() time.Time
}

type window struct {
	count int
	ends  time.Time
}

func NewRateLimiter(limit int, per time.Duration) *RateLimiter {
	// lru.New only fails for a non-positive size
	buckets, _ := lru.New(maxTrackedClients)

	return &RateLimiter{
		limit:   limit,
		window:  per,
		buckets: buckets,
		now:     time.Now,
	}
}

// take counts one request for key. When the window is spent it returns how
// long until the next one opens.
func (rl *RateLimiter) take(key string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, ok := rl.buckets.Get(key); ok {
		w := v.(*window)
		if now.Before(w.ends) {
			if w.count >= rl.limit {
				return false, w.ends.Sub(now)
			}
			w.count++
			return true, 0
		}
	}

	rl.buckets.Add(key, &window{count: 1, ends: now.Add(rl.window)})
	return true, 0
}

// RateLimiterMiddleware enforces the limit per keyFn(c), falling back to
// the client IP when keyFn yields nothing.
func (rl *RateLimiter) RateLimiterMiddleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			key = clientIP(c)
		}

		ok, wait := rl.take(key)
		if !ok {
			secs := int((wait + time.Second - 1) / time.Second)
			c.Header("Retry-After", strconv.Itoa(secs))
			abortJSON(c, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again shortly.")
			return
		}
		c.Next()
	}
}

// KeyByIP is for endpoints reached before a session exists.
func KeyByIP(c *gin.Context) string {
	return "ip:" + clientIP(c)
}

// KeyByUserOrIP keys signed-in callers by account so shared NATs do not
// share a budget.
func KeyByUserOrIP(c *gin.Context) string {
	if id, ok := UserIDFromContext(c); ok && id != "" {
		return "user:" + id
	}
	return KeyByIP(c)
}

func clientIP(c *gin.Context) string {
	ip := c.ClientIP()
	if host, _, err := net.SplitHostPort(ip); err == nil && host != "" {
		return host
	}
	return ip
}
