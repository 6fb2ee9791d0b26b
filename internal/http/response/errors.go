package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	pkgerrors "github.com/yungbote/videoreview-backend/internal/pkg/errors"
	"github.com/yungbote/videoreview-backend/internal/platform/apierr"
	"github.com/yungbote/videoreview-backend/internal/services"
)

// Error maps a service error onto the error envelope. fallbackCode is used for 5xx.
func Error(c *gin.Context, fallbackCode string, err error) {
	status, code := Classify(err)
	if status >= http.StatusInternalServerError {
		code = fallbackCode
	}
	RespondError(c, status, code, err)
}

// Classify picks the HTTP status and error code for err.
func Classify(err error) (int, string) {
	var ae *apierr.Error
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.As(err, &ae) && ae.Status != 0:
		return ae.Status, ae.Code
	case errors.Is(err, services.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, pkgerrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, pkgerrors.ErrLeaseHeld):
		return http.StatusConflict, "analysis_in_progress"
	case errors.Is(err, pkgerrors.ErrConflict):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal"
}
