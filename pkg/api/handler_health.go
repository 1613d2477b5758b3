package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charter-works/charterd/pkg/database"
	"github.com/charter-works/charterd/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /healthz. Only the engine's own dependencies
// are checked; LLM providers are excluded so a vendor outage does not get
// the process restarted.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   healthStatusUnhealthy,
			"version":  version.GitCommit,
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   healthStatusHealthy,
		"version":  version.GitCommit,
		"database": dbHealth,
	})
}
