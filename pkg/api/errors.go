package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charter-works/charterd/pkg/orchestrator"
)

// errorResponse is the uniform error envelope. error_code values are API
// contract; clients branch on them, so they never change meaning.
type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
}

var statusByCode = map[string]int{
	orchestrator.CodeNotFound:                   http.StatusNotFound,
	orchestrator.CodeInvalidRequest:             http.StatusBadRequest,
	orchestrator.CodeDuplicateStageWrite:        http.StatusConflict,
	orchestrator.CodeStageAlreadyCommitted:      http.StatusConflict,
	orchestrator.CodeStageNotCurrent:            http.StatusConflict,
	orchestrator.CodeSuspectedInjection:         http.StatusBadRequest,
	orchestrator.CodeResponseTooLong:            http.StatusBadRequest,
	orchestrator.CodeGateFailed:                 http.StatusUnprocessableEntity,
	orchestrator.CodeCharterBlockedInconsistent: http.StatusUnprocessableEntity,
	orchestrator.CodeCancelled:                  http.StatusConflict,
	orchestrator.CodeAttemptsExhausted:          http.StatusConflict,
	orchestrator.CodeProviderTransient:          http.StatusBadGateway,
	orchestrator.CodeProviderExhausted:          http.StatusBadGateway,
	orchestrator.CodeProviderMalformedReply:     http.StatusBadGateway,
	orchestrator.CodeSynthesisFailed:            http.StatusBadGateway,
	orchestrator.CodeEvaluationTimeout:          http.StatusGatewayTimeout,
	orchestrator.CodeInternal:                   http.StatusInternalServerError,
}

// writeError maps any error onto the envelope. Underlying causes of 5xx
// errors stay in the server log only.
func writeError(c *gin.Context, err error) {
	coded := orchestrator.Classify(err)
	status, ok := statusByCode[coded.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed",
			"code", coded.Code, "error", err, "path", c.Request.URL.Path,
			"request_id", c.GetString("request_id"))
	}
	c.JSON(status, errorResponse{
		ErrorCode: coded.Code,
		Message:   coded.Message,
		Details:   coded.Details,
	})
}
