package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict reports a write that lost against concurrent state.
	ErrConflict = errors.New("conflict")
	// ErrLeaseHeld means another analysis run currently owns the video.
	ErrLeaseHeld = errors.New("analysis already in progress for video")
)
