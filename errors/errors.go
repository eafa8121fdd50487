package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	// Storage layer
	ErrKeyNotFound    = fmt.Errorf("key not found")
	ErrWrongKind      = fmt.Errorf("operation against a key holding the wrong kind of value")
	ErrTransientStore = fmt.Errorf("store unavailable")

	// Room lifecycle
	ErrRoomNotFound = fmt.Errorf("room not found")
	ErrRoomFull     = fmt.Errorf("room is full")
	ErrUnauthorized = fmt.Errorf("unauthorized")
	ErrValidation   = fmt.Errorf("validation failed")

	ErrInvalidPayload = fmt.Errorf("invalid event payload")
)

// Is and As forward to the standard library so callers importing this
// package under its plain name keep errors.Is working.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
