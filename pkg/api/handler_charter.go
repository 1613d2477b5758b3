package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charter-works/charterd/pkg/orchestrator"
	"github.com/charter-works/charterd/pkg/services"
)

// checkConsistencyHandler handles POST /api/v1/sessions/:id/consistency/check:
// it runs the cross-stage check and stores the report.
func (s *Server) checkConsistencyHandler(c *gin.Context) {
	report, err := s.orch.CheckConsistency(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// getConsistencyHandler handles GET /api/v1/sessions/:id/consistency: the
// stored report from the most recent check.
func (s *Server) getConsistencyHandler(c *gin.Context) {
	report, err := s.stores.Charters.GetConsistencyReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// generateCharterHandler handles POST /api/v1/sessions/:id/charter/generate.
func (s *Server) generateCharterHandler(c *gin.Context) {
	charter, err := s.orch.GenerateCharter(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, charter)
}

// getCharterHandler handles GET /api/v1/sessions/:id/charter. With
// ?format=markdown the rendered document is returned instead of JSON.
func (s *Server) getCharterHandler(c *gin.Context) {
	sessionID := c.Param("id")
	charter, err := s.stores.Charters.GetCharter(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	if c.Query("format") == "markdown" {
		report, err := s.stores.Charters.GetConsistencyReport(c.Request.Context(), sessionID)
		if err != nil && !errors.Is(err, services.ErrNotFound) {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/markdown; charset=utf-8",
			[]byte(orchestrator.RenderMarkdown(charter, report)))
		return
	}
	c.JSON(http.StatusOK, charter)
}
