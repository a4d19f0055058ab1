package chat

import "encoding/json"

// Server to client events
const (
	EventViewerCount    = "viewer-count"
	EventChatHistory    = "chat-history"
	EventChatMessage    = "chat-message"
	EventMessageDeleted = "message-deleted"
	EventUserBanned     = "user-banned"
	EventSlowModeUpdate = "slow-mode-update"
	EventStreamEnded    = "stream-ended"
	EventErrorMessage   = "error-message"
)

// Client to server events
const (
	EventJoinStream       = "join-stream"
	EventLeaveStream      = "leave-stream"
	EventJoinProfileChat  = "join-profile-chat"
	EventLeaveProfileChat = "leave-profile-chat"
	EventBanUser          = "ban-user"
	EventUnbanUser        = "unban-user"
	EventDeleteMessage    = "delete-message"
	EventToggleSlowMode   = "toggle-slow-mode"
)

// Event is the wire envelope in both directions.
type Event struct {
	Event string      `json:"event"`
	Room  string      `json:"room,omitempty"`
	Data  interface{} `json:"data"`
}

// inboundEvent defers decoding of data until the event name is known.
type inboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type ViewerCountPayload struct {
	StreamID string `json:"streamId"`
	Count    int    `json:"count"`
}

type ChatHistoryPayload struct {
	StreamID string         `json:"streamId"`
	Messages []*ChatMessage `json:"messages"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
}

type UserBannedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Duration int    `json:"duration"`
	BannedBy string `json:"bannedBy"`
}

type SlowModePayload struct {
	Enabled bool `json:"enabled"`
	Seconds int  `json:"seconds"`
}

type StreamEndedPayload struct {
	StreamID string `json:"streamId"`
	Reason   string `json:"reason"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Client request payloads

type joinStreamRequest struct {
	StreamID string `json:"streamId"`
}

type profileChatRequest struct {
	ChannelName string `json:"channelName"`
}

type chatMessageRequest struct {
	StreamID    string `json:"streamId"`
	ChannelName string `json:"channelName"`
	Message     string `json:"message"`
}

type banRequest struct {
	StreamID    string `json:"streamId"`
	ChannelName string `json:"channelName"`
	UserID      string `json:"userId"`
	Duration    int    `json:"duration"`
	Reason      string `json:"reason"`
}

type deleteMessageRequest struct {
	StreamID    string `json:"streamId"`
	ChannelName string `json:"channelName"`
	MessageID   string `json:"messageId"`
}

type slowModeRequest struct {
	StreamID    string `json:"streamId"`
	ChannelName string `json:"channelName"`
	Enabled     bool   `json:"enabled"`
	Seconds     int    `json:"seconds"`
}

// ProfileRoomID names the chat room on a user's profile page.
func ProfileRoomID(username string) string {
	return "profile:" + username
}
