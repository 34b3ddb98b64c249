package http

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumoqi/trainbase/internal/infra/config"
)

func errorHandlingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		httpErr := asHTTPError(c.Errors.Last().Err)
		message := httpErr.Message
		if message == "" {
			message = httpErr.Error()
		}

		if httpErr.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "code", httpErr.Code, "status", httpErr.Status, "path", c.Request.URL.Path, "error", httpErr.Err)
		} else {
			logger.Warn("request failed", "code", httpErr.Code, "status", httpErr.Status, "path", c.Request.URL.Path, "error", httpErr.Err)
		}

		c.JSON(httpErr.Status, gin.H{
			"error": gin.H{
				"code":    httpErr.Code,
				"message": message,
			},
		})
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("http request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "latency_ms", latency.Milliseconds())
	}
}

// rateLimitMiddleware applies a token bucket per authenticated user, falling
// back to client IP before authentication ran.
func rateLimitMiddleware(cfg config.RateLimitConfig, logger *slog.Logger) gin.HandlerFunc {
	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := newKeyedRateLimiter(cfg)
	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID, ok := getUserID(c); ok {
			key = "u:" + strconv.FormatInt(userID, 10)
		}
		if limiter.allow(key) {
			c.Next()
			return
		}
		logger.Warn("rate limit exceeded", "key", key, "path", c.Request.URL.Path)
		abortWithError(c, NewHTTPError(http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests", nil))
	}
}

type keyedRateLimiter struct {
	buckets       map[string]*bucket
	mu            sync.Mutex
	ratePerMinute float64
	burst         float64
	ttl           time.Duration
	lastCleanup   time.Time
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

func newKeyedRateLimiter(cfg config.RateLimitConfig) *keyedRateLimiter {
	return &keyedRateLimiter{
		buckets:       make(map[string]*bucket),
		ratePerMinute: float64(cfg.RequestsPerMinute),
		burst:         float64(cfg.Burst),
		ttl:           5 * time.Minute,
		lastCleanup:   time.Now(),
	}
}

func (l *keyedRateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastSeen: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastSeen).Minutes()
		if elapsed > 0 {
			b.tokens = math.Min(l.burst, b.tokens+elapsed*l.ratePerMinute)
		}
		b.lastSeen = now
	}
	l.cleanupLocked(now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *keyedRateLimiter) cleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < l.ttl {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, key)
		}
	}
	l.lastCleanup = now
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-User-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
