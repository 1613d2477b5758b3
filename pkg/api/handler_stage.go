package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/charter-works/charterd/pkg/orchestrator"
)

// executeStageHandler handles POST /api/v1/sessions/:id/stages/:stage/execute.
// The stage run is asynchronous: the interview needs multiple user answers
// that each arrive in their own request. The run outcome is polled through
// the prompt endpoint.
func (s *Server) executeStageHandler(c *gin.Context) {
	sessionID := c.Param("id")
	stage, err := strconv.Atoi(c.Param("stage"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			ErrorCode: orchestrator.CodeInvalidRequest,
			Message:   "stage must be an integer",
		})
		return
	}

	if err := s.runs.start(sessionID, stage); err != nil {
		writeError(c, err)
		return
	}

	// The run outlives this request; it is cancelled through the session
	// cancel endpoint, not by the client disconnecting.
	go func() {
		result, runErr := s.orch.RunStage(context.Background(), sessionID, stage, s.exchange)
		s.runs.finish(sessionID, result, orchestrator.Classify(runErr))
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": sessionID,
		"stage":      stage,
		"status":     "running",
	})
}

// promptHandler handles GET /api/v1/sessions/:id/prompt: the question
// currently awaiting an answer, or the state of the stage run when none is.
func (s *Server) promptHandler(c *gin.Context) {
	sessionID := c.Param("id")

	if prompt, ok := s.exchange.Pending(sessionID); ok {
		c.JSON(http.StatusOK, gin.H{"state": "awaiting_answer", "prompt": prompt})
		return
	}

	run, ok := s.runs.get(sessionID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"state": "idle"})
		return
	}
	switch run.Status {
	case "running":
		c.JSON(http.StatusOK, gin.H{"state": "working", "stage": run.Stage})
	case "done":
		c.JSON(http.StatusOK, gin.H{"state": "done", "stage": run.Stage, "result": run.Result})
	default:
		coded := run.Err
		c.JSON(http.StatusOK, gin.H{
			"state": "error",
			"stage": run.Stage,
			"error": errorResponse{ErrorCode: coded.Code, Message: coded.Message, Details: coded.Details},
		})
	}
}

// answerRequest is the body of POST /api/v1/sessions/:id/answer.
type answerRequest struct {
	Answer string `json:"answer" binding:"required"`
}

// answerHandler delivers the user's answer to the blocked conversation loop.
func (s *Server) answerHandler(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			ErrorCode: orchestrator.CodeInvalidRequest,
			Message:   "request body must be JSON with a non-empty answer",
		})
		return
	}

	if err := s.exchange.Deliver(c.Param("id"), req.Answer); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// advanceStageHandler handles POST /api/v1/sessions/:id/stages/:stage/advance.
func (s *Server) advanceStageHandler(c *gin.Context) {
	sessionID := c.Param("id")
	stage, err := strconv.Atoi(c.Param("stage"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			ErrorCode: orchestrator.CodeInvalidRequest,
			Message:   "stage must be an integer",
		})
		return
	}

	validation, err := s.orch.AdvanceStage(c.Request.Context(), sessionID, stage)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"stage":      stage,
		"advanced":   true,
		"validation": validation,
	})
}
