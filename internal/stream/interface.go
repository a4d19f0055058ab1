package stream

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStore reads and updates the streaming fields of user accounts.
// Lookups return nil, nil when nothing matches.
type UserStore interface {
	GetUserByStreamKey(ctx context.Context, key string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateStreamKey(ctx context.Context, userID uuid.UUID, key string) error
	SetStreamingAccess(ctx context.Context, userID uuid.UUID, allowed bool) error
}

// SessionStore persists stream sessions.
type SessionStore interface {
	// CreateSession returns ErrSessionAlreadyLive when the user already has a live session.
	CreateSession(ctx context.Context, session *StreamSession) error
	GetSessionByID(ctx context.Context, id uuid.UUID) (*StreamSession, error)
	GetActiveSessionByUser(ctx context.Context, userID uuid.UUID) (*StreamSession, error)
	GetLiveSessions(ctx context.Context) ([]*StreamSession, error)
	// EndSession flips a live session to ended. It reports false if the session was not live.
	EndSession(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error)
	UpdateSessionInfo(ctx context.Context, id uuid.UUID, title, category *string) error
}

type StreamStore interface {
	UserStore
	SessionStore
	CheckDBConnection() error
}
