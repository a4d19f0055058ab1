package stream

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps users and sessions in process. It backs tests and
// DB_MEMORY runs.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]*User
	sessions map[uuid.UUID]*StreamSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[uuid.UUID]*User),
		sessions: make(map[uuid.UUID]*StreamSession),
	}
}

// PutUser inserts or replaces a user record.
func (ms *MemoryStore) PutUser(user *User) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.users[user.ID] = ms.copyUser(user)
}

func (ms *MemoryStore) copyUser(user *User) *User {
	if user == nil {
		return nil
	}
	cp := *user
	if user.StreamKey != nil {
		key := *user.StreamKey
		cp.StreamKey = &key
	}
	return &cp
}

func (ms *MemoryStore) GetUserByStreamKey(_ context.Context, key string) (*User, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	for _, user := range ms.users {
		if user.StreamKey != nil && *user.StreamKey == key {
			return ms.copyUser(user), nil
		}
	}
	return nil, nil
}

func (ms *MemoryStore) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.copyUser(ms.users[id]), nil
}

func (ms *MemoryStore) GetUserByUsername(_ context.Context, username string) (*User, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	for _, user := range ms.users {
		if strings.EqualFold(user.Username, username) {
			return ms.copyUser(user), nil
		}
	}
	return nil, nil
}

func (ms *MemoryStore) UpdateStreamKey(_ context.Context, userID uuid.UUID, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	user, ok := ms.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.StreamKey = &key
	return nil
}

func (ms *MemoryStore) SetStreamingAccess(_ context.Context, userID uuid.UUID, allowed bool) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	user, ok := ms.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.CanStream = allowed
	return nil
}

func (ms *MemoryStore) CreateSession(_ context.Context, session *StreamSession) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, existing := range ms.sessions {
		if existing.UserID == session.UserID && existing.IsLive {
			return ErrSessionAlreadyLive
		}
	}

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	session.IsLive = true
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	if user, ok := ms.users[session.UserID]; ok {
		session.Username = user.Username
	}
	cp := *session
	ms.sessions[session.ID] = &cp
	return nil
}

func (ms *MemoryStore) GetSessionByID(_ context.Context, id uuid.UUID) (*StreamSession, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	session, ok := ms.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *session
	return &cp, nil
}

func (ms *MemoryStore) GetActiveSessionByUser(_ context.Context, userID uuid.UUID) (*StreamSession, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	for _, session := range ms.sessions {
		if session.UserID == userID && session.IsLive {
			cp := *session
			return &cp, nil
		}
	}
	return nil, nil
}

func (ms *MemoryStore) GetLiveSessions(_ context.Context) ([]*StreamSession, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var sessions []*StreamSession
	for _, session := range ms.sessions {
		if session.IsLive {
			cp := *session
			sessions = append(sessions, &cp)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	return sessions, nil
}

func (ms *MemoryStore) EndSession(_ context.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	session, ok := ms.sessions[id]
	if !ok || !session.IsLive {
		return false, nil
	}
	session.IsLive = false
	session.EndedAt = &endedAt
	session.UpdatedAt = endedAt
	return true, nil
}

func (ms *MemoryStore) UpdateSessionInfo(_ context.Context, id uuid.UUID, title, category *string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	session, ok := ms.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if title != nil {
		session.Title = *title
	}
	if category != nil {
		session.Category = *category
	}
	session.UpdatedAt = time.Now()
	return nil
}

func (ms *MemoryStore) CheckDBConnection() error {
	return nil
}
