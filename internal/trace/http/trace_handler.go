// Package http provides the read-only execution-trace API used for
// operational inspection of reconciliation runs.
package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/allisson/syncbridge/internal/httputil"
	"github.com/allisson/syncbridge/internal/trace/http/dto"
	traceUsecase "github.com/allisson/syncbridge/internal/trace/usecase"
)

// TraceHandler serves recorded flow executions and their trails.
type TraceHandler struct {
	recorder *traceUsecase.Recorder
	logger   *slog.Logger
}

// NewTraceHandler creates a trace handler.
func NewTraceHandler(recorder *traceUsecase.Recorder, logger *slog.Logger) *TraceHandler {
	return &TraceHandler{recorder: recorder, logger: logger}
}

// GetHandler retrieves the full trail for one trace id.
// GET /v1/traces/:trace_id
// Returns 200 OK with the flow, its steps and its API calls.
func (h *TraceHandler) GetHandler(c *gin.Context) {
	traceID := strings.TrimSpace(c.Param("trace_id"))
	if traceID == "" {
		httputil.HandleValidationErrorGin(
			c,
			fmt.Errorf("trace_id cannot be empty"),
			h.logger,
		)
		return
	}

	flow, steps, calls, err := h.recorder.Report(c.Request.Context(), traceID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapReportToResponse(flow, steps, calls))
}

// ListHandler retrieves flow executions with pagination support, newest first.
// GET /v1/flows?offset=0&limit=50
func (h *TraceHandler) ListHandler(c *gin.Context) {
	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	flows, err := h.recorder.ListFlows(c.Request.Context(), offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapFlowsToListResponse(flows))
}
