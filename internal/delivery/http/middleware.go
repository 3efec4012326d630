package http

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/productmatcher/backend/internal/infrastructure/cache"
	"github.com/productmatcher/backend/internal/logging"
	"github.com/productmatcher/backend/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// CORSMiddleware handles CORS for browser clients
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		if origin != "" && isAllowedOrigin(origin, allowedOrigins) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, "+requestIDHeader)
			c.Writer.Header().Set("Access-Control-Expose-Headers", requestIDHeader)
			c.Writer.Header().Set("Access-Control-Max-Age", "3600")
		}

		// Handle preflight requests
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// isAllowedOrigin checks if the origin is in the allowed list.
// A trailing "*" matches any suffix, so "*" alone allows every origin.
func isAllowedOrigin(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if strings.HasSuffix(allowed, "*") {
			prefix := strings.TrimSuffix(allowed, "*")
			if strings.HasPrefix(origin, prefix) {
				return true
			}
		} else if origin == allowed {
			return true
		}
	}
	return false
}

// RequestIDMiddleware propagates X-Request-ID, generating one when absent
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = logging.GenerateRequestID()
		}

		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logging.ContextWithRequestID(c.Request.Context(), id))

		c.Next()
	}
}

// LoggerMiddleware writes one structured access log line per request
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		event := logging.Ctx(c.Request.Context()).Info()
		if status >= http.StatusInternalServerError {
			event = logging.Ctx(c.Request.Context()).Error()
		} else if status >= http.StatusBadRequest {
			event = logging.Ctx(c.Request.Context()).Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// RecoveryMiddleware recovers from panics and answers with the generic 500 body
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.Ctx(c.Request.Context()).Error().
			Interface("panic", recovered).
			Str("path", c.Request.URL.Path).
			Msg("Recovered from panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: msgInternal})
	})
}

// RateLimitMiddleware limits each client IP to perMinute requests with the given burst.
// Limiters live in limiters and expire with it; perMinute <= 0 disables limiting.
func RateLimitMiddleware(perMinute, burst int, limiters *cache.MemoryCache[*rate.Limiter]) gin.HandlerFunc {
	if perMinute <= 0 || limiters == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	every := rate.Limit(float64(perMinute) / 60)
	retryAfter := strconv.Itoa(int(math.Ceil(60 / float64(perMinute))))

	return func(c *gin.Context) {
		limiter := limiters.GetOrCreate(c.ClientIP(), func() *rate.Limiter {
			return rate.NewLimiter(every, burst)
		})
		metrics.RateLimitClients.Set(float64(limiters.Size()))

		if !limiter.Allow() {
			metrics.RateLimited.Inc()
			logging.Ctx(c.Request.Context()).Warn().Str("client_ip", c.ClientIP()).Msg("Rate limit exceeded")
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: msgTooManyRequests})
			return
		}

		c.Next()
	}
}
