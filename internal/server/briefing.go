package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/predixa/entitlements/internal/briefing"
)

func (s *Server) GetNewsBriefing(c *gin.Context) {
	mode, err := briefing.ParseMode(c.Query("mode"))
	if err != nil {
		AbortWithError(c, newValidationError("mode", "invalid_mode", err.Error()))
		return
	}

	result, err := s.briefings.Get(c.Request.Context(), mode, c.Query("force") == "true")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	cacheStatus := "MISS"
	if result.Cached {
		cacheStatus = "HIT"
	}
	c.Header("X-Cache", cacheStatus)
	c.Header("Cache-Control", "private, max-age=60")
	c.JSON(http.StatusOK, result)
}
