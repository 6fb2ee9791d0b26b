package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/videoreview-backend/internal/http/response"
	"github.com/yungbote/videoreview-backend/internal/services"
)

type AnalysisHandler struct {
	analysis services.AnalysisService
}

func NewAnalysisHandler(analysis services.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analysis: analysis}
}

// POST /api/videos/:id/analyze
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	videoID, err := pathUUID(c, "id")
	if err != nil {
		response.Error(c, "analyze_failed", err)
		return
	}
	var req services.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.analysis.Analyze(c.Request.Context(), userID, videoID, req)
	if err != nil {
		response.Error(c, "analyze_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

// GET /api/videos/:id/status
func (h *AnalysisHandler) Status(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	videoID, err := pathUUID(c, "id")
	if err != nil {
		response.Error(c, "status_failed", err)
		return
	}
	st, err := h.analysis.Status(c.Request.Context(), userID, videoID)
	if err != nil {
		response.Error(c, "status_failed", err)
		return
	}
	response.RespondOK(c, st)
}

// GET /api/statistics
func (h *AnalysisHandler) Statistics(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	stats, err := h.analysis.Statistics(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, "statistics_failed", err)
		return
	}
	response.RespondOK(c, stats)
}
