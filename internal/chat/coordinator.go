package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"livecast/internal/audit"
	"livecast/internal/metrics"
	"livecast/internal/security"
	"livecast/internal/stream"
	utils "livecast/pkg/utils"

	"github.com/google/uuid"
)

const (
	DefaultHistorySize      = 200
	DefaultMaxMessageLength = 500
	maxSlowModeSeconds      = 3600
	maxTimeout              = 7 * 24 * time.Hour
)

// Broadcaster delivers an event to everyone in a room.
type Broadcaster interface {
	Broadcast(room string, ev Event)
}

// Directory resolves users for moderation.
type Directory interface {
	LookupUser(ctx context.Context, username string) (*stream.User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*stream.User, error)
	ResolveRole(ctx context.Context, userID uuid.UUID) (security.Role, error)
}

type CoordinatorConfig struct {
	HistorySize      int
	MaxMessageLength int
}

// Room is one chat room: a stream session or a profile page.
type Room struct {
	ID      string
	Channel Channel

	mu          sync.Mutex
	ring        *Ring
	slowMode    bool
	slowSeconds int
	lastPost    map[uuid.UUID]time.Time
	banned      map[uuid.UUID]struct{}
	timedOut    map[uuid.UUID]time.Time
}

// Coordinator owns every open room and applies moderation before broadcast.
type Coordinator struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	store       ModerationStore
	directory   Directory
	broadcaster Broadcaster
	audit       *audit.AuditLogger
	config      CoordinatorConfig
	now         func() time.Time
}

func NewCoordinator(store ModerationStore, directory Directory, broadcaster Broadcaster, auditLogger *audit.AuditLogger, config CoordinatorConfig) *Coordinator {
	if config.HistorySize <= 0 {
		config.HistorySize = DefaultHistorySize
	}
	if config.MaxMessageLength <= 0 {
		config.MaxMessageLength = DefaultMaxMessageLength
	}
	return &Coordinator{
		rooms:       make(map[string]*Room),
		store:       store,
		directory:   directory,
		broadcaster: broadcaster,
		audit:       auditLogger,
		config:      config,
		now:         time.Now,
	}
}

// Rooms

// OpenRoom returns the room, creating it if needed.
func (c *Coordinator) OpenRoom(roomID string, channel Channel) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room, ok := c.rooms[roomID]; ok {
		return room
	}
	room := &Room{
		ID:       roomID,
		Channel:  channel,
		ring:     NewRing(c.config.HistorySize),
		lastPost: make(map[uuid.UUID]time.Time),
		banned:   make(map[uuid.UUID]struct{}),
		timedOut: make(map[uuid.UUID]time.Time),
	}
	c.rooms[roomID] = room
	utils.Logger.Debugf("Opened chat room %s for channel %s", roomID, channel.OwnerName)
	return room
}

// CloseRoom drops the room's history and tells its members the stream ended.
func (c *Coordinator) CloseRoom(roomID, reason string) bool {
	room, ok := c.DiscardRoom(roomID)
	if !ok {
		return false
	}

	room.mu.Lock()
	c.broadcaster.Broadcast(roomID, Event{
		Event: EventStreamEnded,
		Data:  StreamEndedPayload{StreamID: roomID, Reason: reason},
	})
	room.mu.Unlock()
	return true
}

// DiscardRoom removes the room without notifying anyone.
func (c *Coordinator) DiscardRoom(roomID string) (*Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms[roomID]
	delete(c.rooms, roomID)
	return room, ok
}

func (c *Coordinator) Room(roomID string) (*Room, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	room, ok := c.rooms[roomID]
	return room, ok
}

func (c *Coordinator) room(roomID string) (*Room, error) {
	room, ok := c.Room(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// History returns the room's recent messages, oldest first.
func (c *Coordinator) History(roomID string) ([]*ChatMessage, error) {
	room, err := c.room(roomID)
	if err != nil {
		return nil, err
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.ring.Snapshot(), nil
}

// SlowMode reports the room's slow mode setting.
func (c *Coordinator) SlowMode(roomID string) (bool, int, error) {
	room, err := c.room(roomID)
	if err != nil {
		return false, 0, err
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.slowMode, room.slowSeconds, nil
}

// Posting

// PostMessage runs the moderation checks in order and, if they pass, appends
// the message to the room's history and broadcasts it. A recognized slash
// command is handled instead and returns a nil message.
func (c *Coordinator) PostMessage(ctx context.Context, roomID string, author Author, text string) (*ChatMessage, error) {
	room, err := c.room(roomID)
	if err != nil {
		return nil, err
	}
	if author.Anonymous() {
		return nil, ErrLoginRequired
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > c.config.MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	channelID := room.Channel.OwnerID
	banned, err := c.store.IsBanned(ctx, channelID, author.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to check ban: %w", err)
	}
	if banned {
		metrics.RecordChatRejection("banned")
		return nil, ErrBanned
	}

	now := c.now()
	timeout, err := c.store.ActiveTimeout(ctx, channelID, author.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to check timeout: %w", err)
	}
	if timeout != nil {
		metrics.RecordChatRejection("timed_out")
		return nil, &TimedOutError{Remaining: timeout.ExpiresAt.Sub(now)}
	}

	if strings.HasPrefix(text, "/") {
		handled, err := c.HandleCommand(ctx, room, author, text)
		if handled || err != nil {
			return nil, err
		}
	}

	privileged := false
	room.mu.Lock()
	slowMode := room.slowMode
	room.mu.Unlock()
	if slowMode {
		privileged, err = c.isPrivileged(ctx, room, author)
		if err != nil {
			return nil, err
		}
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if _, ok := room.banned[author.UserID]; ok {
		metrics.RecordChatRejection("banned")
		return nil, ErrBanned
	}

	now = c.now()
	if until, ok := room.timedOut[author.UserID]; ok {
		if now.Before(until) {
			metrics.RecordChatRejection("timed_out")
			return nil, &TimedOutError{Remaining: until.Sub(now)}
		}
		delete(room.timedOut, author.UserID)
	}
	if room.slowMode && !privileged {
		if last, ok := room.lastPost[author.UserID]; ok {
			wait := time.Duration(room.slowSeconds)*time.Second - now.Sub(last)
			if wait > 0 {
				metrics.RecordChatRejection("slow_mode")
				return nil, &SlowModeError{Remaining: wait}
			}
		}
	}

	msg := newChatMessage(roomID, author, text, now)
	room.ring.Push(msg)
	room.lastPost[author.UserID] = now
	c.broadcaster.Broadcast(roomID, Event{Event: EventChatMessage, Data: msg})
	metrics.ChatMessagesTotal.Inc()
	return msg, nil
}

// postSystem appends a system line and broadcasts it.
func (c *Coordinator) postSystem(room *Room, text string) *ChatMessage {
	room.mu.Lock()
	defer room.mu.Unlock()
	msg := newSystemMessage(room.ID, text, c.now())
	room.ring.Push(msg)
	c.broadcaster.Broadcast(room.ID, Event{Event: EventChatMessage, Data: msg})
	return msg
}

// Remote state from other instances. These mutate local rooms only and
// never broadcast.

// Remember appends a message relayed from another instance.
func (c *Coordinator) Remember(roomID string, msg *ChatMessage) {
	room, ok := c.Room(roomID)
	if !ok {
		return
	}
	room.mu.Lock()
	room.ring.Push(msg)
	room.mu.Unlock()
}

// Forget removes a message deleted on another instance.
func (c *Coordinator) Forget(roomID, messageID string) {
	room, ok := c.Room(roomID)
	if !ok {
		return
	}
	room.mu.Lock()
	room.ring.Remove(messageID)
	room.mu.Unlock()
}

// ApplySlowMode mirrors a slow mode change made on another instance.
func (c *Coordinator) ApplySlowMode(roomID string, enabled bool, seconds int) {
	room, ok := c.Room(roomID)
	if !ok {
		return
	}
	room.mu.Lock()
	room.slowMode = enabled
	room.slowSeconds = seconds
	room.mu.Unlock()
}

// Authorization

// currentRole re-reads the actor's site role. If the lookup fails the role
// the connection authenticated with is used.
func (c *Coordinator) currentRole(ctx context.Context, actor Author) security.Role {
	if c.directory == nil || actor.Anonymous() {
		return actor.Role
	}
	role, err := c.directory.ResolveRole(ctx, actor.UserID)
	if err != nil {
		utils.Logger.Warnf("Role lookup for %s failed, using cached role %s: %v", actor.UserID, actor.Role, err)
		return actor.Role
	}
	return role
}

// isPrivileged reports whether actor may moderate the room's channel.
func (c *Coordinator) isPrivileged(ctx context.Context, room *Room, actor Author) (bool, error) {
	if actor.Anonymous() {
		return false, nil
	}
	if actor.UserID == room.Channel.OwnerID {
		return true, nil
	}
	if c.currentRole(ctx, actor).IsStaff() {
		return true, nil
	}
	isMod, err := c.store.IsModerator(ctx, room.Channel.OwnerID, actor.UserID)
	if err != nil {
		return false, fmt.Errorf("failed to check moderator: %w", err)
	}
	return isMod, nil
}

func (c *Coordinator) requirePrivileged(ctx context.Context, room *Room, actor Author, action string) error {
	ok, err := c.isPrivileged(ctx, room, actor)
	if err != nil {
		return err
	}
	if !ok {
		metrics.RecordChatRejection("not_authorized")
		id := actor.UserID
		c.audit.LogSuspiciousActivity(action, fmt.Sprintf("%s denied in room %s", action, room.ID), &id)
		return ErrNotAuthorized
	}
	return nil
}

// target loads the moderation target and applies the self, owner and admin guards.
func (c *Coordinator) target(ctx context.Context, room *Room, actor Author, targetID uuid.UUID) (*stream.User, error) {
	if targetID == actor.UserID {
		return nil, ErrCannotModerateSelf
	}
	if targetID == room.Channel.OwnerID {
		return nil, ErrProtectedTarget
	}
	user, err := c.directory.GetUser(ctx, targetID)
	if err != nil {
		if errors.Is(err, stream.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load target user: %w", err)
	}
	if user.Role == security.RoleAdmin {
		return nil, ErrProtectedTarget
	}
	return user, nil
}

// Moderation

// DeleteMessage removes a message from history and tells the room to hide it.
// The broadcast happens even if the message was already evicted.
func (c *Coordinator) DeleteMessage(ctx context.Context, roomID string, actor Author, messageID string) error {
	room, err := c.room(roomID)
	if err != nil {
		return err
	}
	if err := c.requirePrivileged(ctx, room, actor, "delete-message"); err != nil {
		return err
	}

	room.mu.Lock()
	room.ring.Remove(messageID)
	c.broadcaster.Broadcast(roomID, Event{
		Event: EventMessageDeleted,
		Data:  MessageDeletedPayload{MessageID: messageID},
	})
	room.mu.Unlock()

	metrics.RecordModerationAction("delete")
	c.audit.LogMessageDeleted(room.Channel.OwnerID, actor.UserID, messageID)
	return nil
}

// Ban permanently bars target from the room's channel.
func (c *Coordinator) Ban(ctx context.Context, roomID string, actor Author, targetID uuid.UUID, reason string) error {
	room, err := c.room(roomID)
	if err != nil {
		return err
	}
	if err := c.requirePrivileged(ctx, room, actor, "ban-user"); err != nil {
		return err
	}
	user, err := c.target(ctx, room, actor, targetID)
	if err != nil {
		return err
	}

	err = c.store.PutBan(ctx, &BanEntry{
		ChannelID: room.Channel.OwnerID,
		UserID:    user.ID,
		Username:  user.Username,
		BannedBy:  actor.UserID,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: c.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to store ban: %w", err)
	}

	room.mu.Lock()
	room.banned[user.ID] = struct{}{}
	c.broadcaster.Broadcast(roomID, Event{
		Event: EventUserBanned,
		Data: UserBannedPayload{
			UserID:   user.ID.String(),
			Username: user.Username,
			Duration: 0,
			BannedBy: actor.Username,
		},
	})
	room.mu.Unlock()

	metrics.RecordModerationAction("ban")
	c.audit.LogBan(room.Channel.OwnerID, actor.UserID, user.ID, reason)
	return nil
}

// Timeout suppresses target's messages in the channel for seconds.
func (c *Coordinator) Timeout(ctx context.Context, roomID string, actor Author, targetID uuid.UUID, seconds int) error {
	duration := time.Duration(seconds) * time.Second
	if seconds <= 0 || duration > maxTimeout {
		return ErrInvalidDuration
	}
	room, err := c.room(roomID)
	if err != nil {
		return err
	}
	if err := c.requirePrivileged(ctx, room, actor, "timeout-user"); err != nil {
		return err
	}
	user, err := c.target(ctx, room, actor, targetID)
	if err != nil {
		return err
	}

	now := c.now()
	expiresAt := now.Add(duration)
	err = c.store.PutTimeout(ctx, &TimeoutEntry{
		ChannelID: room.Channel.OwnerID,
		UserID:    user.ID,
		Username:  user.Username,
		BannedBy:  actor.UserID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to store timeout: %w", err)
	}

	room.mu.Lock()
	room.timedOut[user.ID] = expiresAt
	c.broadcaster.Broadcast(roomID, Event{
		Event: EventUserBanned,
		Data: UserBannedPayload{
			UserID:   user.ID.String(),
			Username: user.Username,
			Duration: seconds,
			BannedBy: actor.Username,
		},
	})
	room.mu.Unlock()

	metrics.RecordModerationAction("timeout")
	c.audit.LogTimeout(room.Channel.OwnerID, actor.UserID, user.ID, duration)
	return nil
}

// Unban lifts both the ban and any timeout on target.
func (c *Coordinator) Unban(ctx context.Context, roomID string, actor Author, targetID uuid.UUID) error {
	room, err := c.room(roomID)
	if err != nil {
		return err
	}
	if err := c.requirePrivileged(ctx, room, actor, "unban-user"); err != nil {
		return err
	}
	if targetID == actor.UserID {
		return ErrCannotModerateSelf
	}

	channelID := room.Channel.OwnerID
	if _, err := c.store.DeleteBan(ctx, channelID, targetID); err != nil {
		return fmt.Errorf("failed to remove ban: %w", err)
	}
	if _, err := c.store.DeleteTimeout(ctx, channelID, targetID); err != nil {
		return fmt.Errorf("failed to remove timeout: %w", err)
	}

	c.mu.RLock()
	for _, r := range c.rooms {
		if r.Channel.OwnerID != channelID {
			continue
		}
		r.mu.Lock()
		delete(r.banned, targetID)
		delete(r.timedOut, targetID)
		r.mu.Unlock()
	}
	c.mu.RUnlock()

	metrics.RecordModerationAction("unban")
	c.audit.LogUnban(channelID, actor.UserID, targetID)
	return nil
}

// SetSlowMode turns slow mode on or off for the room.
func (c *Coordinator) SetSlowMode(ctx context.Context, roomID string, actor Author, enabled bool, seconds int) error {
	room, err := c.room(roomID)
	if err != nil {
		return err
	}
	if err := c.requirePrivileged(ctx, room, actor, "toggle-slow-mode"); err != nil {
		return err
	}
	if enabled && (seconds <= 0 || seconds > maxSlowModeSeconds) {
		return ErrInvalidDuration
	}
	if !enabled {
		seconds = 0
	}

	room.mu.Lock()
	room.slowMode = enabled
	room.slowSeconds = seconds
	c.broadcaster.Broadcast(roomID, Event{
		Event: EventSlowModeUpdate,
		Data:  SlowModePayload{Enabled: enabled, Seconds: seconds},
	})
	room.mu.Unlock()

	metrics.RecordModerationAction("slow_mode")
	return nil
}

// Housekeeping

// SweepExpired deletes expired timeouts and forgets stale slow mode stamps
// and cached timeouts.
// Expiry is enforced at post time, so this only bounds memory and table size.
func (c *Coordinator) SweepExpired(ctx context.Context) (int64, error) {
	now := c.now()
	removed, err := c.store.DeleteExpiredTimeouts(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep timeouts: %w", err)
	}

	c.mu.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.RUnlock()

	for _, room := range rooms {
		room.mu.Lock()
		window := time.Duration(room.slowSeconds) * time.Second
		for userID, last := range room.lastPost {
			if now.Sub(last) >= window {
				delete(room.lastPost, userID)
			}
		}
		for userID, until := range room.timedOut {
			if !now.Before(until) {
				delete(room.timedOut, userID)
			}
		}
		room.mu.Unlock()
	}

	if removed > 0 {
		utils.Logger.Infof("Swept %d expired chat timeouts", removed)
	}
	return removed, nil
}
