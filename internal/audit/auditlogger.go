package audit

import (
	"context"
	"time"

	utils "livecast/pkg/utils"

	"github.com/google/uuid"
)

const storeTimeout = 3 * time.Second

// Event is one audit record.
type Event struct {
	Type      string
	ActorID   uuid.UUID
	TargetID  uuid.UUID
	ChannelID uuid.UUID
	Details   map[string]interface{}
	CreatedAt time.Time
}

// Sink persists audit events.
type Sink interface {
	Store(ctx context.Context, event *Event) error
}

// AuditLogger records moderation and administrative actions
type AuditLogger struct {
	sink Sink
}

// NewAuditLogger creates a new audit logger. A nil sink only logs.
func NewAuditLogger(sink Sink) *AuditLogger {
	return &AuditLogger{
		sink: sink,
	}
}

// LogBan logs a permanent chat ban
func (al *AuditLogger) LogBan(channelID, actorID, targetID uuid.UUID, reason string) {
	utils.Logger.Infof("Chat ban: channel=%s, actor=%s, target=%s", channelID, actorID, targetID)
	al.storeAuditLog(&Event{
		Type:      "chat_ban",
		ActorID:   actorID,
		TargetID:  targetID,
		ChannelID: channelID,
		Details:   map[string]interface{}{"reason": reason},
	})
}

// LogTimeout logs a time-bounded chat suppression
func (al *AuditLogger) LogTimeout(channelID, actorID, targetID uuid.UUID, duration time.Duration) {
	utils.Logger.Infof("Chat timeout: channel=%s, actor=%s, target=%s, seconds=%d",
		channelID, actorID, targetID, int(duration.Seconds()))
	al.storeAuditLog(&Event{
		Type:      "chat_timeout",
		ActorID:   actorID,
		TargetID:  targetID,
		ChannelID: channelID,
		Details:   map[string]interface{}{"seconds": int(duration.Seconds())},
	})
}

// LogUnban logs removal of a ban or timeout
func (al *AuditLogger) LogUnban(channelID, actorID, targetID uuid.UUID) {
	utils.Logger.Infof("Chat unban: channel=%s, actor=%s, target=%s", channelID, actorID, targetID)
	al.storeAuditLog(&Event{
		Type:      "chat_unban",
		ActorID:   actorID,
		TargetID:  targetID,
		ChannelID: channelID,
	})
}

// LogModeratorChange logs /mod and /unmod
func (al *AuditLogger) LogModeratorChange(channelID, actorID, targetID uuid.UUID, granted bool) {
	eventType := "moderator_granted"
	if !granted {
		eventType = "moderator_revoked"
	}
	utils.Logger.Infof("Moderator change: type=%s, channel=%s, actor=%s, target=%s",
		eventType, channelID, actorID, targetID)
	al.storeAuditLog(&Event{
		Type:      eventType,
		ActorID:   actorID,
		TargetID:  targetID,
		ChannelID: channelID,
	})
}

// LogMessageDeleted logs chat message removal
func (al *AuditLogger) LogMessageDeleted(channelID, actorID uuid.UUID, messageID string) {
	utils.Logger.Infof("Chat message deleted: channel=%s, actor=%s, message=%s", channelID, actorID, messageID)
	al.storeAuditLog(&Event{
		Type:      "message_deleted",
		ActorID:   actorID,
		ChannelID: channelID,
		Details:   map[string]interface{}{"message_id": messageID},
	})
}

// LogSuspiciousActivity logs rejected privileged attempts
func (al *AuditLogger) LogSuspiciousActivity(eventType, description string, actorID *uuid.UUID) {
	event := &Event{
		Type:    "suspicious_activity",
		Details: map[string]interface{}{"kind": eventType, "description": description},
	}
	if actorID != nil {
		event.ActorID = *actorID
	}

	utils.Logger.Warnf("Suspicious activity: type=%s, description=%s", eventType, description)
	al.storeAuditLog(event)
}

func (al *AuditLogger) storeAuditLog(event *Event) {
	if al == nil || al.sink == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := al.sink.Store(ctx, event); err != nil {
		utils.Logger.Errorf("Failed to store audit event %s: %v", event.Type, err)
	}
}
