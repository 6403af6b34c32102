package server

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/predixa/entitlements/internal/accessgate"
	obscontext "github.com/predixa/entitlements/internal/observability/context"
	"github.com/predixa/entitlements/internal/observability/logger"
	"github.com/predixa/entitlements/internal/session"
	"go.uber.org/zap"
)

const (
	contextSubjectKey = "subject"
	contextEmailKey   = "email"
)

// subscriptionRoute is the requirement RequireAccess enforces on API routes.
var subscriptionRoute = accessgate.Route{Protected: true, RequiresSubscription: true}

// AuthRequired verifies the request token and stores the subject.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := s.identity.Authenticate(c.Request)
		if err != nil {
			logger.FromContext(c.Request.Context()).Debug("request not authenticated", zap.Error(err))
			AbortWithError(c, ErrUnauthorized)
			return
		}
		setIdentity(c, claims)
		c.Next()
	}
}

// OptionalAuth stores the subject when the request carries a valid token and
// lets anonymous requests through.
func (s *Server) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, err := s.identity.Authenticate(c.Request); err == nil {
			setIdentity(c, claims)
		}
		c.Next()
	}
}

// RequireAccess runs the access gate for subscription-only API routes:
// 401 without a session, 403 without an entitlement, 503 when the check
// itself failed.
func (s *Server) RequireAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		var claims session.Claims
		authenticate := func(ctx context.Context) (string, error) {
			cl, err := s.identity.Authenticate(c.Request)
			if err != nil {
				return "", err
			}
			claims = cl
			return cl.Subject, nil
		}

		out := s.gate.EvaluateRoute(c.Request.Context(), c.FullPath(), subscriptionRoute, authenticate)
		switch out.State {
		case accessgate.StateEntitled:
			setIdentity(c, claims)
			c.Next()
		case accessgate.StateUnauthenticated:
			AbortWithError(c, ErrUnauthorized)
		case accessgate.StateNotEntitled:
			AbortWithError(c, ErrForbidden)
		default:
			AbortWithError(c, ErrServiceUnavailable)
		}
	}
}

func setIdentity(c *gin.Context, claims session.Claims) {
	c.Set(contextSubjectKey, claims.Subject)
	c.Set(contextEmailKey, claims.Email)
	c.Request = c.Request.WithContext(obscontext.WithSubject(c.Request.Context(), claims.Subject))
}

func subjectFrom(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(contextSubjectKey))
}

func emailFrom(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(contextEmailKey))
}
