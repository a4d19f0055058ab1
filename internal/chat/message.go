package chat

import (
	"time"

	"livecast/internal/security"
	"livecast/internal/stream"

	"github.com/google/uuid"
)

const (
	SystemUsername = "System"
	SystemRole     = "system"
)

// Author is the identity a connection posts and moderates with.
type Author struct {
	UserID    uuid.UUID
	Username  string
	Role      security.Role
	IsPartner bool
	ChatColor string
	Badge     string
}

// Anonymous reports whether the author has no account.
func (a Author) Anonymous() bool {
	return a.UserID == uuid.Nil
}

// AuthorFromUser copies the display attributes of a stored user.
func AuthorFromUser(u *stream.User) Author {
	return Author{
		UserID:    u.ID,
		Username:  u.Username,
		Role:      u.Role,
		IsPartner: u.IsPartner,
		ChatColor: u.ChatColor,
		Badge:     u.Badge,
	}
}

type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId,omitempty"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ChatColor string    `json:"chatColor,omitempty"`
	IsPartner bool      `json:"isPartner"`
	Badge     string    `json:"badge,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func newChatMessage(roomID string, author Author, text string, now time.Time) *ChatMessage {
	return &ChatMessage{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    author.UserID.String(),
		Username:  author.Username,
		Role:      author.Role.String(),
		ChatColor: author.ChatColor,
		IsPartner: author.IsPartner,
		Badge:     author.Badge,
		Message:   text,
		Timestamp: now,
	}
}

func newSystemMessage(roomID, text string, now time.Time) *ChatMessage {
	return &ChatMessage{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Username:  SystemUsername,
		Role:      SystemRole,
		Message:   text,
		Timestamp: now,
	}
}

// Channel identifies whose chat a room belongs to. Bans, timeouts and
// moderators are scoped to the channel, not the room.
type Channel struct {
	OwnerID   uuid.UUID
	OwnerName string
}
