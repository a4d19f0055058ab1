package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"livecast/internal/audit"
	"livecast/internal/metrics"
	"livecast/internal/presence"
	"livecast/internal/security"
	"livecast/internal/stream"
	utils "livecast/pkg/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// SessionLookup finds stream sessions for join-stream.
type SessionLookup interface {
	GetSession(ctx context.Context, sessionID uuid.UUID) (*stream.StreamSession, error)
}

type ServerConfig struct {
	AllowedOrigins    []string
	MessagesPerSecond float64
	MessageBurst      int
}

// Server is the chat and presence websocket hub.
type Server struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	presence    *presence.Registry
	coordinator *Coordinator
	sessions    SessionLookup
	directory   Directory
	tokens      *security.TokenManager
	relay       *Relay
	upgrader    websocket.Upgrader
	config      ServerConfig
}

// NewServer wires the hub, presence registry and coordinator together. relay may be nil.
func NewServer(store ModerationStore, directory Directory, sessions SessionLookup, tokens *security.TokenManager, auditLogger *audit.AuditLogger, relay *Relay, coordinatorConfig CoordinatorConfig, config ServerConfig) *Server {
	s := &Server{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		sessions:   sessions,
		directory:  directory,
		tokens:     tokens,
		relay:      relay,
		config:     config,
	}
	s.presence = presence.NewRegistry(s.onViewerCount)
	s.coordinator = NewCoordinator(store, directory, s, auditLogger, coordinatorConfig)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(config.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (s *Server) Coordinator() *Coordinator { return s.coordinator }

func (s *Server) Presence() *presence.Registry { return s.presence }

// Count reports a room's viewer count.
func (s *Server) Count(room string) int {
	return s.presence.Count(room)
}

// Start runs the register loop until ctx is done.
func (s *Server) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(s.done)
			s.closeAll()
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client.ID] = client
			s.mu.Unlock()
			metrics.ChatConnections.Inc()

		case client := <-s.unregister:
			s.mu.Lock()
			_, ok := s.clients[client.ID]
			delete(s.clients, client.ID)
			s.mu.Unlock()
			// a client can be unregistered twice when it is dropped while
			// still reading; membership is cleared every time
			client.close()
			s.presence.LeaveAll(client.ID)
			if ok {
				metrics.ChatConnections.Dec()
			}
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[string]*Client)
	s.mu.Unlock()
	for _, client := range clients {
		client.close()
	}
}

// ServeWS upgrades the request. Clients without a token join as read-only
// viewers; a token that fails validation is refused.
func (s *Server) ServeWS(c echo.Context) error {
	author, err := s.authenticate(c)
	if err != nil {
		return err
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		utils.Logger.Errorf("WebSocket upgrade failed: %v", err)
		return nil
	}

	client := newClient(s, conn, author, s.newLimiter())
	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return nil
	}
	utils.WithFields(map[string]interface{}{
		"client_id": client.ID,
		"user_id":   author.UserID,
		"username":  author.Username,
	}).Debug("Chat client connected")

	go client.WritePump()
	go client.ReadPump()
	return nil
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.config.MessagesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := s.config.MessageBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.config.MessagesPerSecond), burst)
}

func (s *Server) authenticate(c echo.Context) (Author, error) {
	token, ok := security.ExtractToken(c, true)
	if !ok {
		return Author{}, echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
	}
	if token == "" {
		return Author{Username: "guest"}, nil
	}

	result, err := s.tokens.ValidateToken(token)
	if err != nil || !result.Valid {
		return Author{}, utils.ErrInvalidToken
	}
	claims := result.Claims

	author := Author{
		UserID:   claims.UserID,
		Username: claims.Username,
		Role:     claims.Role,
	}
	if user, err := s.directory.GetUser(c.Request().Context(), claims.UserID); err == nil {
		author = AuthorFromUser(user)
	} else if !errors.Is(err, stream.ErrUserNotFound) {
		utils.Logger.Warnf("Could not load chat profile for %s, using token claims: %v", claims.UserID, err)
	}
	return author, nil
}

func (s *Server) client(id string) (*Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[id]
	return client, ok
}

// Broadcasting

// Broadcast delivers ev to local room members and hands it to the relay.
func (s *Server) Broadcast(room string, ev Event) {
	ev.Room = room
	data, err := json.Marshal(ev)
	if err != nil {
		utils.Logger.Errorf("Error marshaling %s event: %v", ev.Event, err)
		return
	}
	s.deliverLocal(room, data)

	if s.relay != nil {
		payload, err := json.Marshal(ev.Data)
		if err == nil {
			s.relay.Enqueue(room, ev.Event, payload)
		}
	}
}

func (s *Server) deliverLocal(room string, data []byte) {
	for _, id := range s.presence.Members(room) {
		client, ok := s.client(id)
		if !ok {
			continue
		}
		if !client.enqueue(data) {
			utils.Logger.Warnf("Dropping slow chat client %s", client.ID)
			go s.drop(client)
		}
	}
}

func (s *Server) drop(client *Client) {
	select {
	case s.unregister <- client:
	case <-s.done:
	}
}

// SendTo delivers ev to a single client.
func (s *Server) SendTo(client *Client, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		utils.Logger.Errorf("Error marshaling %s event: %v", ev.Event, err)
		return
	}
	if !client.enqueue(data) {
		go s.drop(client)
	}
}

// onViewerCount is the presence listener. Counts are per instance and are not relayed.
func (s *Server) onViewerCount(room string, count int) {
	metrics.SetRoomViewers(room, count)
	data, err := json.Marshal(Event{
		Event: EventViewerCount,
		Room:  room,
		Data:  ViewerCountPayload{StreamID: room, Count: count},
	})
	if err != nil {
		return
	}
	s.deliverLocal(room, data)
}

// HandleRelay applies a broadcast made on another instance.
func (s *Server) HandleRelay(msg *RelayMessage) {
	switch msg.Event {
	case EventChatMessage:
		var chatMsg ChatMessage
		if err := json.Unmarshal(msg.Payload, &chatMsg); err == nil {
			s.coordinator.Remember(msg.Room, &chatMsg)
		}
	case EventMessageDeleted:
		var payload MessageDeletedPayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil {
			s.coordinator.Forget(msg.Room, payload.MessageID)
		}
	case EventSlowModeUpdate:
		var payload SlowModePayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil {
			s.coordinator.ApplySlowMode(msg.Room, payload.Enabled, payload.Seconds)
		}
	}

	data, err := json.Marshal(Event{Event: msg.Event, Room: msg.Room, Data: msg.Payload})
	if err != nil {
		return
	}
	s.deliverLocal(msg.Room, data)

	if msg.Event == EventStreamEnded {
		s.coordinator.DiscardRoom(msg.Room)
		s.presence.Drop(msg.Room)
		metrics.ForgetRoom(msg.Room)
	}
}

// Stream lifecycle

// StreamStarted opens the session's chat room.
func (s *Server) StreamStarted(session *stream.StreamSession, owner *stream.User) {
	s.coordinator.OpenRoom(session.RoomID(), Channel{OwnerID: owner.ID, OwnerName: owner.Username})
}

// StreamEnded tells viewers the stream is over and forgets the room.
func (s *Server) StreamEnded(session *stream.StreamSession, reason string) {
	roomID := session.RoomID()
	if !s.coordinator.CloseRoom(roomID, reason) {
		s.Broadcast(roomID, Event{
			Event: EventStreamEnded,
			Data:  StreamEndedPayload{StreamID: roomID, Reason: reason},
		})
	}
	s.presence.Drop(roomID)
	metrics.ForgetRoom(roomID)
}
