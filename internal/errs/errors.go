package errs

import "errors"

var (
	ErrBadRequest         = errors.New("bad request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrInternal           = errors.New("internal error")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")

	ErrNotConnected   = errors.New("realtime channel not connected")
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrMessageTooLong = errors.New("message text exceeds limit")
	ErrUnknownChat    = errors.New("unknown chat")
	ErrNotHydrated    = errors.New("client state not rehydrated")
)
