package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/predixa/entitlements/internal/observability/logger"
	"github.com/predixa/entitlements/internal/session"
	"go.uber.org/zap"
)

// CreateSession stores the caller's verified bearer token in the session
// cookie so later page loads can authenticate without the header.
func (s *Server) CreateSession(c *gin.Context) {
	token := session.BearerToken(c.Request)
	if token == "" {
		AbortWithError(c, newValidationError("authorization", "missing_token", "missing Authorization bearer token"))
		return
	}

	ctx := c.Request.Context()
	claims, err := s.identity.Verify(ctx, token)
	if err != nil {
		logger.FromContext(ctx).Info("session token rejected", zap.Error(err))
		AbortWithError(c, ErrUnauthorized)
		return
	}

	maxAge := session.MaxAge(token, s.clock.Now())
	if maxAge <= 0 {
		logger.FromContext(ctx).Info("session token already expired")
		s.sessions.Clear(c)
		AbortWithError(c, ErrUnauthorized)
		return
	}

	s.sessions.Set(c, token, maxAge)
	logger.FromContext(ctx).Debug("session cookie issued", zap.String("token_use", claims.TokenUse))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) DeleteSession(c *gin.Context) {
	s.sessions.Clear(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
