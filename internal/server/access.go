package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/predixa/entitlements/internal/accessgate"
	entitlementdomain "github.com/predixa/entitlements/internal/entitlement/domain"
)

type accessResponse struct {
	Status    entitlementdomain.Status   `json:"status"`
	Platform  entitlementdomain.Platform `json:"platform"`
	PeriodEnd *int64                     `json:"period_end"`
	Plan      *entitlementdomain.Plan    `json:"plan"`
	HasAccess bool                       `json:"has_access"`
}

// GetAccess returns the resolver verdict for the caller.
func (s *Server) GetAccess(c *gin.Context) {
	ctx := c.Request.Context()
	verdict := s.resolver.Resolve(ctx, subjectFrom(c))
	if err := ctx.Err(); err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	resp := accessResponse{
		Status:    verdict.Status,
		Platform:  verdict.Platform,
		Plan:      verdict.Plan,
		HasAccess: verdict.HasAccess(),
	}
	if verdict.PeriodEnd > 0 {
		periodEnd := verdict.PeriodEnd
		resp.PeriodEnd = &periodEnd
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}

// EvaluateGate runs the page gate for ?path= and reports the outcome,
// including the redirect the page should follow.
func (s *Server) EvaluateGate(c *gin.Context) {
	path := strings.TrimSpace(c.DefaultQuery("path", "/"))
	if !strings.HasPrefix(path, "/") {
		AbortWithError(c, newValidationError("path", "invalid_path", "path must start with /"))
		return
	}

	out := s.gate.Evaluate(c.Request.Context(), accessgate.Request{
		Path:      path,
		UserAgent: c.Request.UserAgent(),
		Authenticate: func(ctx context.Context) (string, error) {
			claims, err := s.identity.Authenticate(c.Request)
			if err != nil {
				return "", err
			}
			return claims.Subject, nil
		},
	})

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, out)
}
