package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	"github.com/yungbote/videoreview-backend/internal/http/response"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/platform/apierr"
	"github.com/yungbote/videoreview-backend/internal/services"
)

// multipart overhead allowed on top of the video itself
const uploadSlack = 1 << 20

type VideoHandler struct {
	log      *logger.Logger
	videos   services.VideoService
	maxBytes int64
}

func NewVideoHandler(log *logger.Logger, videos services.VideoService, cfg services.UploadConfig) *VideoHandler {
	return &VideoHandler{
		log:      log.With("handler", "VideoHandler"),
		videos:   videos,
		maxBytes: cfg.MaxBytes,
	}
}

// POST /api/videos
func (h *VideoHandler) Upload(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+uploadSlack)
	}
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			response.Error(c, "upload_failed", services.ErrTooLarge)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "invalid_multipart_form", err)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_file", err)
		return
	}
	defer f.Close()

	in := services.UploadInput{
		UserID:        userID,
		Title:         c.PostForm("title"),
		Description:   c.PostForm("description"),
		Filename:      fh.Filename,
		Size:          fh.Size,
		Body:          f,
		AnalysisTypes: formList(c, "analysis_types"),
	}
	if raw := strings.TrimSpace(c.PostForm("custom_rules")); raw != "" {
		in.CustomRules = json.RawMessage(raw)
	}
	video, job, err := h.videos.Upload(c.Request.Context(), in)
	if err != nil {
		h.log.Warn("upload rejected", "user_id", userID, "filename", fh.Filename, "error", err)
		response.Error(c, "upload_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"video": video, "job": job})
}

// formList reads repeated fields, "analysis_types[]" style fields, and comma separated values.
func formList(c *gin.Context, name string) []string {
	raw := append(c.PostFormArray(name), c.PostFormArray(name+"[]")...)
	var out []string
	for _, r := range raw {
		for _, v := range strings.Split(r, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// GET /api/videos
func (h *VideoHandler) List(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	filter := repos.VideoFilter{
		UserID:       userID,
		Status:       strings.TrimSpace(c.Query("status")),
		Query:        strings.TrimSpace(c.Query("q")),
		AnalysisType: strings.TrimSpace(c.Query("analysis_type")),
	}
	var err error
	if filter.HasViolations, err = queryBool(c, "has_violations"); err != nil {
		response.Error(c, "list_videos_failed", err)
		return
	}
	if filter.CreatedFrom, err = queryTime(c, "date_from"); err != nil {
		response.Error(c, "list_videos_failed", err)
		return
	}
	if filter.CreatedTo, err = queryTime(c, "date_to"); err != nil {
		response.Error(c, "list_videos_failed", err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.Error(c, "list_videos_failed", err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		response.Error(c, "list_videos_failed", err)
		return
	}
	if limit != nil {
		filter.Limit = *limit
	}
	if offset != nil {
		filter.Offset = *offset
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		response.Error(c, "list_videos_failed", apierr.BadRequest("invalid_pagination", errors.New("limit and offset must be non-negative")))
		return
	}
	videos, err := h.videos.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, "list_videos_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"videos": videos})
}

// GET /api/videos/:id
func (h *VideoHandler) Get(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	videoID, err := pathUUID(c, "id")
	if err != nil {
		response.Error(c, "get_video_failed", err)
		return
	}
	video, err := h.videos.Get(c.Request.Context(), userID, videoID)
	if err != nil {
		response.Error(c, "get_video_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"video": video})
}

// PATCH /api/videos/:id
func (h *VideoHandler) Update(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	videoID, err := pathUUID(c, "id")
	if err != nil {
		response.Error(c, "update_video_failed", err)
		return
	}
	var patch services.VideoPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	video, err := h.videos.Update(c.Request.Context(), userID, videoID, patch)
	if err != nil {
		response.Error(c, "update_video_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"video": video})
}

// DELETE /api/videos/:id
func (h *VideoHandler) Delete(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	videoID, err := pathUUID(c, "id")
	if err != nil {
		response.Error(c, "delete_video_failed", err)
		return
	}
	if err := h.videos.Delete(c.Request.Context(), userID, videoID); err != nil {
		response.Error(c, "delete_video_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/videos/:id/frames
func (h *VideoHandler) Frames(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	videoID, err := pathUUID(c, "id")
	if err != nil {
		response.Error(c, "list_frames_failed", err)
		return
	}
	gen, err := queryInt(c, "generation")
	if err != nil {
		response.Error(c, "list_frames_failed", err)
		return
	}
	frames, err := h.videos.Frames(c.Request.Context(), userID, videoID, gen)
	if err != nil {
		response.Error(c, "list_frames_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"frames": frames})
}

// GET /api/videos/:id/frames/:frame_id/objects
func (h *VideoHandler) FrameObjects(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	videoID, err := pathUUID(c, "id")
	if err != nil {
		response.Error(c, "list_objects_failed", err)
		return
	}
	frameID, err := pathUUID(c, "frame_id")
	if err != nil {
		response.Error(c, "list_objects_failed", err)
		return
	}
	objects, err := h.videos.FrameObjects(c.Request.Context(), userID, videoID, frameID)
	if err != nil {
		response.Error(c, "list_objects_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"objects": objects})
}

// GET /api/videos/:id/events
func (h *VideoHandler) Events(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	videoID, err := pathUUID(c, "id")
	if err != nil {
		response.Error(c, "list_events_failed", err)
		return
	}
	filter := repos.EventFilter{
		VideoID:   videoID,
		Severity:  strings.TrimSpace(c.Query("severity")),
		EventType: strings.TrimSpace(c.Query("event_type")),
	}
	if filter.IsViolation, err = queryBool(c, "is_violation"); err == nil {
		if filter.StartFrom, err = queryFloat(c, "start_time"); err == nil {
			if filter.StartTo, err = queryFloat(c, "end_time"); err == nil {
				filter.Generation, err = queryInt(c, "generation")
			}
		}
	}
	if err != nil {
		response.Error(c, "list_events_failed", err)
		return
	}
	events, err := h.videos.Events(c.Request.Context(), userID, filter)
	if err != nil {
		response.Error(c, "list_events_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"events": events})
}
