package chat

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrBanned             = errors.New("You are banned from this chat")
	ErrEmptyMessage       = errors.New("Message cannot be empty")
	ErrMessageTooLong     = errors.New("Message is too long")
	ErrRoomNotFound       = errors.New("Chat room not found")
	ErrNotAuthorized      = errors.New("You are not authorized to do that")
	ErrLoginRequired      = errors.New("You must be logged in to chat")
	ErrUserNotFound       = errors.New("User not found")
	ErrCannotModerateSelf = errors.New("You cannot moderate yourself")
	ErrProtectedTarget    = errors.New("That user cannot be moderated")
	ErrRateLimited        = errors.New("You are sending messages too quickly")
	ErrInvalidDuration    = errors.New("Invalid timeout duration")
	ErrMalformedEvent     = errors.New("Malformed message")
	ErrConnectionClosed   = errors.New("Connection is closed")
)

// TimedOutError rejects an author with an active timeout.
type TimedOutError struct {
	Remaining time.Duration
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("You are timed out for %d more seconds", ceilSeconds(e.Remaining))
}

// SlowModeError rejects a post made too soon after the author's previous one.
type SlowModeError struct {
	Remaining time.Duration
}

func (e *SlowModeError) Error() string {
	return fmt.Sprintf("Slow mode is on. Wait %d more seconds", ceilSeconds(e.Remaining))
}

// UsageError reports a malformed slash command.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string {
	return "Usage: " + e.Usage
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
