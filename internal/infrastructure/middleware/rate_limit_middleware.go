package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"tempvoice/pkg/cache"
	"tempvoice/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimiterStore keeps one limiter per client and forgets clients idle for a while.
type rateLimiterStore struct {
	limiters *cache.Cache[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters: cache.New[string, *rate.Limiter](10 * time.Minute),
		rate:     r,
		burst:    burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	if l, ok := s.limiters.Get(key); ok {
		s.limiters.Set(key, l)
		return l
	}
	l := rate.NewLimiter(s.rate, s.burst)
	if s.limiters.SetIfAbsent(key, l) {
		return l
	}
	existing, _ := s.limiters.Get(key)
	return existing
}

// clientKey limits authenticated callers per user and everyone else per IP.
func clientKey(c *gin.Context) string {
	if actor := ActorID(c); actor != "" {
		return "user:" + string(actor)
	}
	return "ip:" + c.ClientIP()
}

// NewHTTPRateLimitMiddleware applies per-client token buckets from the rate_limiting config.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newRateLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)
	retryAfter := strconv.Itoa(int(math.Ceil(1 / cfg.RateLimiting.HTTP.RequestsPerSecond)))

	return func(c *gin.Context) {
		if !store.getLimiter(clientKey(c)).Allow() {
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RATE_LIMIT_EXCEEDED",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
