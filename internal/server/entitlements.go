package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetEntitlements(c *gin.Context) {
	resp, err := s.entitlements.GetEntitlements(c.Request.Context(), subjectFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}

// StartTrial is idempotent: a user with any record gets it back unchanged.
func (s *Server) StartTrial(c *gin.Context) {
	resp, err := s.entitlements.StartTrial(c.Request.Context(), subjectFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}
