package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/videoreview-backend/internal/http/response"
	"github.com/yungbote/videoreview-backend/internal/pkg/ctxutil"
	"github.com/yungbote/videoreview-backend/internal/platform/apierr"
)

// requestUser aborts with 401 when no owner was attached to the request.
func requestUser(c *gin.Context) (uuid.UUID, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return uuid.Nil, false
	}
	return rd.UserID, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apierr.BadRequest("invalid_"+name, fmt.Errorf("invalid %s: %w", name, err))
	}
	return id, nil
}

func queryInt(c *gin.Context, name string) (*int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apierr.BadRequest("invalid_"+name, fmt.Errorf("%s must be an integer", name))
	}
	return &n, nil
}

func queryFloat(c *gin.Context, name string) (*float64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return nil, apierr.BadRequest("invalid_"+name, fmt.Errorf("%s must be a non-negative number", name))
	}
	return &f, nil
}

func queryBool(c *gin.Context, name string) (*bool, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apierr.BadRequest("invalid_"+name, fmt.Errorf("%s must be a boolean", name))
	}
	return &b, nil
}

// queryTime accepts RFC 3339 or a bare date.
func queryTime(c *gin.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, apierr.BadRequest("invalid_"+name, fmt.Errorf("%s must be RFC 3339 or YYYY-MM-DD", name))
}
