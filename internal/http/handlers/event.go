package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/videoreview-backend/internal/http/response"
	"github.com/yungbote/videoreview-backend/internal/services"
)

type EventHandler struct {
	events services.EventService
}

func NewEventHandler(events services.EventService) *EventHandler {
	return &EventHandler{events: events}
}

// POST /api/videos/:id/events
func (h *EventHandler) Create(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	videoID, err := pathUUID(c, "id")
	if err != nil {
		response.Error(c, "create_event_failed", err)
		return
	}
	var in services.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ev, err := h.events.Create(c.Request.Context(), userID, videoID, in)
	if err != nil {
		response.Error(c, "create_event_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"event": ev})
}

// GET /api/events/:id
func (h *EventHandler) Get(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	eventID, err := pathUUID(c, "id")
	if err != nil {
		response.Error(c, "get_event_failed", err)
		return
	}
	ev, err := h.events.Get(c.Request.Context(), userID, eventID)
	if err != nil {
		response.Error(c, "get_event_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"event": ev})
}

// PATCH /api/events/:id
func (h *EventHandler) Update(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	eventID, err := pathUUID(c, "id")
	if err != nil {
		response.Error(c, "update_event_failed", err)
		return
	}
	var patch services.EventPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ev, err := h.events.Update(c.Request.Context(), userID, eventID, patch)
	if err != nil {
		response.Error(c, "update_event_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"event": ev})
}

// DELETE /api/events/:id
func (h *EventHandler) Delete(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	eventID, err := pathUUID(c, "id")
	if err != nil {
		response.Error(c, "delete_event_failed", err)
		return
	}
	if err := h.events.Delete(c.Request.Context(), userID, eventID); err != nil {
		response.Error(c, "delete_event_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}
