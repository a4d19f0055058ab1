package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"livecast/internal/metrics"
	"livecast/internal/security"
	"livecast/internal/stream"
)

const (
	commandMod   = "/mod"
	commandUnmod = "/unmod"
)

// HandleCommand interprets a slash command line. handled is false for
// commands it does not recognize; the caller then posts the text as chat.
func (c *Coordinator) HandleCommand(ctx context.Context, room *Room, actor Author, text string) (bool, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false, nil
	}

	switch strings.ToLower(fields[0]) {
	case commandMod:
		return true, c.changeModerator(ctx, room, actor, fields[1:], true)
	case commandUnmod:
		return true, c.changeModerator(ctx, room, actor, fields[1:], false)
	default:
		return false, nil
	}
}

func (c *Coordinator) changeModerator(ctx context.Context, room *Room, actor Author, args []string, grant bool) error {
	command := commandMod
	if !grant {
		command = commandUnmod
	}

	// channel owner or site admin only; channel moderators cannot appoint others
	if actor.UserID != room.Channel.OwnerID && c.currentRole(ctx, actor) != security.RoleAdmin {
		metrics.RecordChatRejection("not_authorized")
		id := actor.UserID
		c.audit.LogSuspiciousActivity(command, fmt.Sprintf("%s denied in room %s", command, room.ID), &id)
		return ErrNotAuthorized
	}

	if len(args) == 0 {
		return &UsageError{Usage: command + " <username>"}
	}
	username := strings.TrimPrefix(args[0], "@")
	if username == "" {
		return &UsageError{Usage: command + " <username>"}
	}

	target, err := c.directory.LookupUser(ctx, username)
	if err != nil {
		if errors.Is(err, stream.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to look up %s: %w", username, err)
	}

	channelID := room.Channel.OwnerID
	var announcement string
	if grant {
		if err := c.store.AddModerator(ctx, channelID, target.ID, actor.UserID); err != nil {
			return fmt.Errorf("failed to add moderator: %w", err)
		}
		announcement = fmt.Sprintf("%s is now a moderator", target.Username)
	} else {
		if _, err := c.store.RemoveModerator(ctx, channelID, target.ID); err != nil {
			return fmt.Errorf("failed to remove moderator: %w", err)
		}
		announcement = fmt.Sprintf("%s is no longer a moderator", target.Username)
	}

	c.postSystem(room, announcement)
	metrics.RecordModerationAction(strings.TrimPrefix(command, "/"))
	c.audit.LogModeratorChange(channelID, actor.UserID, target.ID, grant)
	return nil
}
