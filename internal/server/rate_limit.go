package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/predixa/entitlements/internal/observability/logger"
	"go.uber.org/zap"
)

// RateLimit applies the fixed-window limiter keyed by client address. Every
// response carries the X-RateLimit headers; rejections add Retry-After.
func (s *Server) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)
		decision := s.limiter.Allow(ctx, "ip:"+c.ClientIP())

		reset := decision.ResetSeconds()
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(reset))

		if !decision.Allowed {
			logger.FromContext(ctx).Warn("rate limit exceeded",
				zap.String("endpoint", endpoint),
				zap.String("client_ip", c.ClientIP()),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint)
			if reset < 1 {
				reset = 1
			}
			c.Header("Retry-After", strconv.Itoa(reset))
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
