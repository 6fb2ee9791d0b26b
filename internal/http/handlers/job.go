package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/videoreview-backend/internal/http/response"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	"github.com/yungbote/videoreview-backend/internal/services"
)

type JobHandler struct {
	jobs services.JobService
}

func NewJobHandler(jobs services.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	jobID, err := pathUUID(c, "id")
	if err != nil {
		response.Error(c, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.GetForUser(dbctx.Context{Ctx: c.Request.Context()}, userID, jobID)
	if err != nil {
		response.Error(c, "get_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}
