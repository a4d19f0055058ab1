package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"livecast/internal/stream"
	utils "livecast/pkg/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 16 * 1024
	sendBufferSize = 256
	requestTimeout = 5 * time.Second
)

const genericErrorMessage = "Something went wrong, please try again"

// Client is one websocket connection.
type Client struct {
	ID      string
	Author  Author
	Conn    *websocket.Conn
	Server  *Server
	Send    chan []byte
	limiter *rate.Limiter

	// joinMu orders joins against close, so a closed client never joins.
	joinMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	streamRoom string
}

func newClient(server *Server, conn *websocket.Conn, author Author, limiter *rate.Limiter) *Client {
	return &Client{
		ID:      uuid.NewString(),
		Author:  author,
		Conn:    conn,
		Server:  server,
		Send:    make(chan []byte, sendBufferSize),
		limiter: limiter,
	}
}

// enqueue queues data for the write pump. It reports false when the buffer is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) ReadPump() {
	defer func() {
		c.Server.drop(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxFrameSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		utils.Logger.Errorf("Failed to set read deadline: %v", err)
		return
	}
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				utils.Logger.Errorf("WebSocket read error: %v", err)
			}
			break
		}

		var ev inboundEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			utils.Logger.Debugf("Error unmarshaling event from %s: %v", c.ID, err)
			c.sendError(ErrMalformedEvent)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		err = c.dispatch(ctx, ev)
		cancel()
		if err != nil {
			c.sendError(err)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(ctx context.Context, ev inboundEvent) error {
	switch ev.Event {
	case EventJoinStream:
		var req joinStreamRequest
		if err := decode(ev.Data, &req); err != nil {
			return err
		}
		return c.joinStream(ctx, req.StreamID)

	case EventLeaveStream:
		var req joinStreamRequest
		if err := decode(ev.Data, &req); err != nil {
			return err
		}
		c.leaveStream(req.StreamID)
		return nil

	case EventJoinProfileChat:
		var req profileChatRequest
		if err := decode(ev.Data, &req); err != nil {
			return err
		}
		return c.joinProfile(ctx, req.ChannelName)

	case EventLeaveProfileChat:
		var req profileChatRequest
		if err := decode(ev.Data, &req); err != nil {
			return err
		}
		roomID, err := c.resolveRoom(ctx, "", req.ChannelName)
		if err != nil {
			return err
		}
		c.Server.presence.Leave(roomID, c.ID)
		return nil

	case EventChatMessage:
		var req chatMessageRequest
		if err := decode(ev.Data, &req); err != nil {
			return err
		}
		roomID, err := c.memberRoom(ctx, req.StreamID, req.ChannelName)
		if err != nil {
			return err
		}
		if !c.limiter.Allow() {
			return ErrRateLimited
		}
		_, err = c.Server.coordinator.PostMessage(ctx, roomID, c.Author, req.Message)
		return err

	case EventBanUser:
		var req banRequest
		if err := decode(ev.Data, &req); err != nil {
			return err
		}
		roomID, err := c.memberRoom(ctx, req.StreamID, req.ChannelName)
		if err != nil {
			return err
		}
		targetID, err := uuid.Parse(req.UserID)
		if err != nil {
			return ErrUserNotFound
		}
		if req.Duration == 0 {
			return c.Server.coordinator.Ban(ctx, roomID, c.Author, targetID, req.Reason)
		}
		return c.Server.coordinator.Timeout(ctx, roomID, c.Author, targetID, req.Duration)

	case EventUnbanUser:
		var req banRequest
		if err := decode(ev.Data, &req); err != nil {
			return err
		}
		roomID, err := c.memberRoom(ctx, req.StreamID, req.ChannelName)
		if err != nil {
			return err
		}
		targetID, err := uuid.Parse(req.UserID)
		if err != nil {
			return ErrUserNotFound
		}
		return c.Server.coordinator.Unban(ctx, roomID, c.Author, targetID)

	case EventDeleteMessage:
		var req deleteMessageRequest
		if err := decode(ev.Data, &req); err != nil {
			return err
		}
		roomID, err := c.memberRoom(ctx, req.StreamID, req.ChannelName)
		if err != nil {
			return err
		}
		return c.Server.coordinator.DeleteMessage(ctx, roomID, c.Author, req.MessageID)

	case EventToggleSlowMode:
		var req slowModeRequest
		if err := decode(ev.Data, &req); err != nil {
			return err
		}
		roomID, err := c.memberRoom(ctx, req.StreamID, req.ChannelName)
		if err != nil {
			return err
		}
		return c.Server.coordinator.SetSlowMode(ctx, roomID, c.Author, req.Enabled, req.Seconds)

	default:
		utils.Logger.Debugf("Ignoring unknown event %q from %s", ev.Event, c.ID)
		return nil
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return ErrMalformedEvent
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrMalformedEvent
	}
	return nil
}

// joinStream moves the client into a live session's room. A client watches
// at most one stream at a time.
func (c *Client) joinStream(ctx context.Context, streamID string) error {
	sessionID, err := uuid.Parse(streamID)
	if err != nil {
		return ErrRoomNotFound
	}
	session, err := c.Server.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, stream.ErrSessionNotFound) {
			return ErrRoomNotFound
		}
		return err
	}
	if !session.IsLive {
		return ErrRoomNotFound
	}

	roomID := session.RoomID()
	c.Server.coordinator.OpenRoom(roomID, Channel{OwnerID: session.UserID, OwnerName: session.Username})

	if err := c.enterStreamRoom(roomID); err != nil {
		return err
	}
	return c.sendRoomState(roomID)
}

func (c *Client) enterStreamRoom(roomID string) error {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()
	if c.isClosed() {
		return ErrConnectionClosed
	}

	c.mu.Lock()
	previous := c.streamRoom
	c.streamRoom = roomID
	c.mu.Unlock()
	if previous != "" && previous != roomID {
		c.Server.presence.Leave(previous, c.ID)
	}
	c.Server.presence.Join(roomID, c.ID)
	return nil
}

func (c *Client) leaveStream(streamID string) {
	c.mu.Lock()
	if c.streamRoom == streamID {
		c.streamRoom = ""
	}
	c.mu.Unlock()
	c.Server.presence.Leave(streamID, c.ID)
}

func (c *Client) joinProfile(ctx context.Context, channelName string) error {
	user, err := c.Server.directory.LookupUser(ctx, channelName)
	if err != nil {
		if errors.Is(err, stream.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	roomID := ProfileRoomID(user.Username)
	c.Server.coordinator.OpenRoom(roomID, Channel{OwnerID: user.ID, OwnerName: user.Username})
	if err := c.enterRoom(roomID); err != nil {
		return err
	}
	return c.sendRoomState(roomID)
}

func (c *Client) enterRoom(roomID string) error {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()
	if c.isClosed() {
		return ErrConnectionClosed
	}
	c.Server.presence.Join(roomID, c.ID)
	return nil
}

func (c *Client) sendRoomState(roomID string) error {
	history, err := c.Server.coordinator.History(roomID)
	if err != nil {
		return err
	}
	enabled, seconds, err := c.Server.coordinator.SlowMode(roomID)
	if err != nil {
		return err
	}
	if history == nil {
		history = []*ChatMessage{}
	}

	c.Server.SendTo(c, Event{
		Event: EventChatHistory,
		Room:  roomID,
		Data:  ChatHistoryPayload{StreamID: roomID, Messages: history},
	})
	c.Server.SendTo(c, Event{
		Event: EventSlowModeUpdate,
		Room:  roomID,
		Data:  SlowModePayload{Enabled: enabled, Seconds: seconds},
	})
	return nil
}

// resolveRoom maps a request's stream id or channel name to a room id.
func (c *Client) resolveRoom(ctx context.Context, streamID, channelName string) (string, error) {
	if streamID != "" {
		return streamID, nil
	}
	if channelName == "" {
		return "", ErrRoomNotFound
	}
	roomID := ProfileRoomID(channelName)
	if c.isMember(roomID) {
		return roomID, nil
	}
	user, err := c.Server.directory.LookupUser(ctx, channelName)
	if err != nil {
		if errors.Is(err, stream.ErrUserNotFound) {
			return "", ErrRoomNotFound
		}
		return "", err
	}
	return ProfileRoomID(user.Username), nil
}

// memberRoom resolves the room and requires the client to be in it.
func (c *Client) memberRoom(ctx context.Context, streamID, channelName string) (string, error) {
	roomID, err := c.resolveRoom(ctx, streamID, channelName)
	if err != nil {
		return "", err
	}
	if !c.isMember(roomID) {
		return "", ErrRoomNotFound
	}
	return roomID, nil
}

func (c *Client) isMember(roomID string) bool {
	for _, room := range c.Server.presence.RoomsOf(c.ID) {
		if room == roomID {
			return true
		}
	}
	return false
}

// sendError reports a rejection to this client only. Errors that are not
// meant for users are logged and replaced with a generic message.
func (c *Client) sendError(err error) {
	message := err.Error()
	if !isUserFacing(err) {
		utils.WithFields(map[string]interface{}{
			"client_id": c.ID,
			"user_id":   c.Author.UserID,
		}).Errorf("Chat request failed: %v", err)
		message = genericErrorMessage
	}
	c.Server.SendTo(c, Event{
		Event: EventErrorMessage,
		Data:  ErrorPayload{Message: message},
	})
}

func isUserFacing(err error) bool {
	var timedOut *TimedOutError
	var slow *SlowModeError
	var usage *UsageError
	switch {
	case errors.As(err, &timedOut), errors.As(err, &slow), errors.As(err, &usage):
		return true
	}
	for _, known := range []error{
		ErrBanned, ErrEmptyMessage, ErrMessageTooLong, ErrRoomNotFound,
		ErrNotAuthorized, ErrLoginRequired, ErrUserNotFound, ErrCannotModerateSelf,
		ErrProtectedTarget, ErrRateLimited, ErrInvalidDuration, ErrMalformedEvent,
		ErrConnectionClosed,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}
