package stream

import "errors"

var (
	ErrInvalidStreamKey   = errors.New("invalid stream key")
	ErrSessionNotFound    = errors.New("stream session not found")
	ErrSessionNotLive     = errors.New("stream session is not live")
	ErrSessionAlreadyLive = errors.New("user already has a live session")
	ErrNotSessionOwner    = errors.New("unauthorized access to stream session")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidInput       = errors.New("invalid stream info")
)
