package stream

import (
	"time"

	"livecast/internal/security"

	"github.com/google/uuid"
)

// User is the slice of the account record the streaming core reads.
type User struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	Username  string        `json:"username" db:"username"`
	Role      security.Role `json:"role" db:"role"`
	StreamKey *string       `json:"-" db:"stream_key"`
	CanStream bool          `json:"can_stream" db:"can_stream"`
	IsBanned  bool          `json:"is_banned" db:"is_banned"`
	IsPartner bool          `json:"is_partner" db:"is_partner"`
	ChatColor string        `json:"chat_color" db:"chat_color"`
	Badge     string        `json:"badge" db:"badge"`
}

// MayStream reports whether the user's key is accepted at ingest.
func (u *User) MayStream() bool {
	return u.CanStream && !u.IsBanned
}

type StreamSession struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	UserID      uuid.UUID  `json:"user_id" db:"user_id"`
	Username    string     `json:"username" db:"username"`
	Title       string     `json:"title" db:"title"`
	Category    string     `json:"category" db:"category"`
	IsLive      bool       `json:"is_live" db:"is_live"`
	ViewerCount int        `json:"viewer_count" db:"-"`
	HLSURL      string     `json:"hls_url,omitempty" db:"hls_url"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	EndedAt     *time.Time `json:"ended_at" db:"ended_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// RoomID is the presence and chat room name for the session.
func (s *StreamSession) RoomID() string {
	return RoomID(s.ID)
}

func RoomID(sessionID uuid.UUID) string {
	return sessionID.String()
}

// KeyValidation is the answer to a stream key lookup.
type KeyValidation struct {
	Valid    bool   `json:"valid"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

// Lifecycle reasons passed to listeners when a session ends.
const (
	EndReasonUnpublished       = "unpublished"
	EndReasonOwnerEnded        = "ended-by-owner"
	EndReasonForceEnded        = "force-ended"
	EndReasonStreamingDisabled = "streaming-disabled"
)
