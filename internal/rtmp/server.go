package rtmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	utils "livecast/pkg/utils"

	"github.com/google/uuid"
	"github.com/nareix/joy5/format/rtmp"
)

const (
	ConnPublisher = "publisher"
	ConnPlayer    = "player"
)

var ErrTooManyConnections = errors.New("too many RTMP connections")

type Config struct {
	Port             int           `json:"port"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	MaxConnections   int           `json:"max_connections"`
}

// Connection describes one RTMP client.
type Connection struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	Type       string    `json:"type"`
	Username   string    `json:"username,omitempty"`
	StartTime  time.Time `json:"start_time"`

	nc net.Conn
}

// Server accepts RTMP publishers and hands their lifecycle to the bridge.
type Server struct {
	config  Config
	bridge  *Bridge
	rtmpSrv *rtmp.Server

	mu          sync.RWMutex
	listener    net.Listener
	connections map[string]*Connection
	channels    map[string]*channel
	closing     bool
	wg          sync.WaitGroup
	startTime   time.Time
}

func NewServer(config Config, bridge *Bridge) *Server {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	s := &Server{
		config:      config,
		bridge:      bridge,
		connections: make(map[string]*Connection),
		channels:    make(map[string]*channel),
	}
	s.rtmpSrv = rtmp.NewServer()
	s.rtmpSrv.HandleConn = s.handleConn
	return s
}

// Listen binds the configured port. Port 0 picks a free one.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on RTMP port %d: %w", s.config.Port, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.startTime = time.Now()
	s.mu.Unlock()
	utils.Logger.Infof("RTMP server listening on %s", listener.Addr())
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()
	if listener == nil {
		return errors.New("rtmp server is not listening")
	}

	go func() {
		<-ctx.Done()
		listener.Close()
		s.closeConnections()
	}()

	for {
		nc, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			utils.Logger.Errorf("Error accepting RTMP connection: %v", err)
			continue
		}

		if s.config.MaxConnections > 0 && s.connectionCount() >= s.config.MaxConnections {
			utils.Logger.Warnf("Refusing RTMP connection from %s: %v", nc.RemoteAddr(), ErrTooManyConnections)
			nc.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			// a failed handshake never reaches handleConn
			defer nc.Close()
			nc.SetDeadline(time.Now().Add(s.config.HandshakeTimeout))
			s.rtmpSrv.HandleNetConn(nc)
		}()
	}
}

func (s *Server) handleConn(c *rtmp.Conn, nc net.Conn) {
	defer nc.Close()
	nc.SetDeadline(time.Time{})

	key := streamKeyFromPath(c.URL.Path)
	if c.Publishing {
		s.handlePublish(c, nc, key)
		return
	}
	s.handlePlay(c, nc, key)
}

func (s *Server) handlePublish(c *rtmp.Conn, nc net.Conn, key string) {
	// the channel is reserved before validation so a second publisher for
	// a live key never touches the bridge
	ch, ok := s.openChannel(key)
	if !ok {
		utils.Logger.Warnf("Rejected second publish from %s: %v", nc.RemoteAddr(), ErrPublishActive)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attemptCtx, attemptCancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	entry, err := s.bridge.OnPublishAttempt(attemptCtx, key)
	attemptCancel()
	if err != nil {
		ch.close()
		s.releaseChannel(key, ch)
		utils.Logger.Warnf("Rejected publish from %s: %v", nc.RemoteAddr(), err)
		return
	}

	conn := s.track(nc, ConnPublisher, entry.Username)
	defer func() {
		s.untrack(conn.ID)
		ch.close()
		s.bridge.OnUnpublish(context.Background(), key)
		// released last, so a reconnect cannot validate before the
		// previous entry is gone
		s.releaseChannel(key, ch)
	}()

	// confirmation starts only after the attempt returned
	s.bridge.ConfirmAsync(ctx, key)

	for {
		pkt, err := c.ReadPacket()
		if err != nil {
			utils.Logger.Debugf("Publisher %s stopped: %v", entry.Username, err)
			return
		}
		ch.publish(pkt)
	}
}

// handlePlay serves the local HLS remuxer. Remote players are refused.
func (s *Server) handlePlay(c *rtmp.Conn, nc net.Conn, key string) {
	if !isLoopback(nc.RemoteAddr()) {
		utils.Logger.Warnf("Refusing RTMP play from %s", nc.RemoteAddr())
		return
	}

	s.mu.RLock()
	ch, ok := s.channels[key]
	s.mu.RUnlock()
	if !ok {
		return
	}

	conn := s.track(nc, ConnPlayer, "")
	defer s.untrack(conn.ID)

	headers, feed, ok := ch.subscribe(conn.ID)
	if !ok {
		return
	}
	defer ch.unsubscribe(conn.ID)

	for _, pkt := range headers {
		if err := c.WritePacket(pkt); err != nil {
			return
		}
	}
	for pkt := range feed {
		if err := c.WritePacket(pkt); err != nil {
			return
		}
	}
}

func (s *Server) openChannel(key string) (*channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[key]; exists {
		return nil, false
	}
	ch := newChannel()
	s.channels[key] = ch
	return ch, true
}

func (s *Server) releaseChannel(key string, ch *channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[key] == ch {
		delete(s.channels, key)
	}
}

func (s *Server) track(nc net.Conn, kind, username string) *Connection {
	conn := &Connection{
		ID:         uuid.NewString(),
		RemoteAddr: nc.RemoteAddr().String(),
		Type:       kind,
		Username:   username,
		StartTime:  time.Now(),
		nc:         nc,
	}
	s.mu.Lock()
	s.connections[conn.ID] = conn
	if s.closing {
		nc.Close()
	}
	s.mu.Unlock()
	return conn
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.connections, id)
	s.mu.Unlock()
}

// closeConnections ends every tracked connection. Publishers still run
// their unpublish handling.
func (s *Server) closeConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for _, conn := range s.connections {
		conn.nc.Close()
	}
}

func (s *Server) connectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// GetConnections returns a snapshot of tracked connections.
func (s *Server) GetConnections() []Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		out = append(out, *conn)
	}
	return out
}

// GetStats summarizes the server for the status endpoint.
func (s *Server) GetStats() map[string]interface{} {
	s.mu.RLock()
	publishers := 0
	for _, conn := range s.connections {
		if conn.Type == ConnPublisher {
			publishers++
		}
	}
	stats := map[string]interface{}{
		"connections":       len(s.connections),
		"publishers":        publishers,
		"pending_publishes": s.bridge.Pending().Len(),
	}
	if !s.startTime.IsZero() {
		stats["uptime_seconds"] = int(time.Since(s.startTime).Seconds())
	}
	s.mu.RUnlock()
	return stats
}

func (s *Server) GetConfig() Config {
	return s.config
}

// streamKeyFromPath takes the last path segment, so both /live/<key> and
// /<key> work.
func streamKeyFromPath(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return path
}

func isLoopback(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
