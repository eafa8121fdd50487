package errors

import (
	stderrors "errors"
	"net/http"
)

// MapToHTTPStatus translates an engine error into the status code and the
// short machine-readable code returned to clients. Room-not-found and
// room-full stay distinct so the UI can render them differently.
func MapToHTTPStatus(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case stderrors.Is(err, ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case stderrors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case stderrors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound, "room_not_found"
	case stderrors.Is(err, ErrRoomFull):
		return http.StatusConflict, "room_full"
	case stderrors.Is(err, ErrTransientStore):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
