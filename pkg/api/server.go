// Package api exposes the interview engine over HTTP. Stage runs are
// asynchronous: execute starts a run, the pending question is polled, and
// answers are posted back through the exchange.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charter-works/charterd/pkg/database"
	"github.com/charter-works/charterd/pkg/orchestrator"
)

// Server is the HTTP API server.
type Server struct {
	orch   *orchestrator.Orchestrator
	db     *database.Client
	stores orchestrator.Stores

	exchange *Exchange
	runs     *runTracker
}

// NewServer creates the API server over a wired orchestrator. stores gives
// the read-only handlers direct access to the persistence services.
func NewServer(orch *orchestrator.Orchestrator, db *database.Client, stores orchestrator.Stores) *Server {
	return &Server{
		orch:     orch,
		db:       db,
		stores:   stores,
		exchange: NewExchange(),
		runs:     newRunTracker(),
	}
}

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestLogger())

	router.GET("/healthz", s.healthHandler)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sessions", s.createSessionHandler)
		v1.GET("/sessions", s.listSessionsHandler)
		v1.GET("/sessions/:id", s.getSessionHandler)
		v1.GET("/sessions/:id/history", s.historyHandler)
		v1.POST("/sessions/:id/pause", s.pauseSessionHandler)
		v1.POST("/sessions/:id/resume", s.resumeSessionHandler)
		v1.POST("/sessions/:id/cancel", s.cancelSessionHandler)

		v1.POST("/sessions/:id/stages/:stage/execute", s.executeStageHandler)
		v1.GET("/sessions/:id/prompt", s.promptHandler)
		v1.POST("/sessions/:id/answer", s.answerHandler)
		v1.POST("/sessions/:id/stages/:stage/advance", s.advanceStageHandler)

		v1.GET("/sessions/:id/consistency", s.getConsistencyHandler)
		v1.POST("/sessions/:id/consistency/check", s.checkConsistencyHandler)
		v1.POST("/sessions/:id/charter/generate", s.generateCharterHandler)
		v1.GET("/sessions/:id/charter", s.getCharterHandler)
	}

	return router
}
