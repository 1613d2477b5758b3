package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/charter-works/charterd/pkg/models"
)

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			ErrorCode: "invalid_request",
			Message:   "request body must be JSON with owner and project_name",
		})
		return
	}

	session, err := s.orch.CreateSession(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *gin.Context) {
	filters := models.SessionFilters{Owner: c.Query("owner")}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.Limit = n
		}
	}
	if v := c.Query("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.Skip = n
		}
	}

	result, err := s.stores.Sessions.ListSessions(c.Request.Context(), filters)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getSessionHandler handles GET /api/v1/sessions/:id. With
// ?include=deliverables the committed stage records are attached.
func (s *Server) getSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")
	session, err := s.stores.Sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	if c.Query("include") == "deliverables" {
		if session.Deliverables, err = s.stores.Stages.LoadAllDeliverables(c.Request.Context(), sessionID); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, session)
}

// historyHandler handles GET /api/v1/sessions/:id/history.
func (s *Server) historyHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.stores.Sessions.GetSession(c.Request.Context(), sessionID); err != nil {
		writeError(c, err)
		return
	}

	turns, err := s.stores.Conversation.History(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "turns": turns})
}

// pauseSessionHandler handles POST /api/v1/sessions/:id/pause.
func (s *Server) pauseSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.orch.PauseSession(c.Request.Context(), sessionID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "status": models.SessionStatusPaused})
}

// resumeSessionHandler handles POST /api/v1/sessions/:id/resume.
func (s *Server) resumeSessionHandler(c *gin.Context) {
	session, err := s.orch.ResumeSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// cancelRequest is the optional body of POST /api/v1/sessions/:id/cancel.
type cancelRequest struct {
	Reason string `json:"reason"`
}

// cancelSessionHandler handles POST /api/v1/sessions/:id/cancel. Any
// in-flight stage run is interrupted before the session is marked abandoned.
func (s *Server) cancelSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")

	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{
				ErrorCode: "invalid_request",
				Message:   "cancel body must be JSON with an optional reason",
			})
			return
		}
	}

	if err := s.orch.AbortSession(c.Request.Context(), sessionID, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "status": models.SessionStatusAbandoned})
}
