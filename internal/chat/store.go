package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type BanEntry struct {
	ChannelID uuid.UUID `json:"channel_id" db:"channel_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Username  string    `json:"username" db:"username"`
	BannedBy  uuid.UUID `json:"banned_by" db:"banned_by"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type TimeoutEntry struct {
	ChannelID uuid.UUID `json:"channel_id" db:"channel_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Username  string    `json:"username" db:"username"`
	BannedBy  uuid.UUID `json:"banned_by" db:"banned_by"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ModerationStore persists bans, timeouts and channel moderators.
type ModerationStore interface {
	IsBanned(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
	PutBan(ctx context.Context, ban *BanEntry) error
	DeleteBan(ctx context.Context, channelID, userID uuid.UUID) (bool, error)

	// ActiveTimeout returns the timeout in force at now, or nil.
	ActiveTimeout(ctx context.Context, channelID, userID uuid.UUID, now time.Time) (*TimeoutEntry, error)
	PutTimeout(ctx context.Context, timeout *TimeoutEntry) error
	DeleteTimeout(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
	DeleteExpiredTimeouts(ctx context.Context, now time.Time) (int64, error)

	IsModerator(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
	AddModerator(ctx context.Context, channelID, userID, grantedBy uuid.UUID) error
	RemoveModerator(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
}

type channelUser struct {
	channel uuid.UUID
	user    uuid.UUID
}

// MemoryModerationStore keeps moderation state in process.
type MemoryModerationStore struct {
	mu         sync.RWMutex
	bans       map[channelUser]BanEntry
	timeouts   map[channelUser]TimeoutEntry
	moderators map[channelUser]struct{}
}

func NewMemoryModerationStore() *MemoryModerationStore {
	return &MemoryModerationStore{
		bans:       make(map[channelUser]BanEntry),
		timeouts:   make(map[channelUser]TimeoutEntry),
		moderators: make(map[channelUser]struct{}),
	}
}

func (s *MemoryModerationStore) IsBanned(_ context.Context, channelID, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bans[channelUser{channelID, userID}]
	return ok, nil
}

func (s *MemoryModerationStore) PutBan(_ context.Context, ban *BanEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := *ban
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.bans[channelUser{ban.ChannelID, ban.UserID}] = entry
	return nil
}

func (s *MemoryModerationStore) DeleteBan(_ context.Context, channelID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := channelUser{channelID, userID}
	_, ok := s.bans[key]
	delete(s.bans, key)
	return ok, nil
}

func (s *MemoryModerationStore) ActiveTimeout(_ context.Context, channelID, userID uuid.UUID, now time.Time) (*TimeoutEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.timeouts[channelUser{channelID, userID}]
	if !ok || !now.Before(entry.ExpiresAt) {
		return nil, nil
	}
	return &entry, nil
}

func (s *MemoryModerationStore) PutTimeout(_ context.Context, timeout *TimeoutEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := *timeout
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.timeouts[channelUser{timeout.ChannelID, timeout.UserID}] = entry
	return nil
}

func (s *MemoryModerationStore) DeleteTimeout(_ context.Context, channelID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := channelUser{channelID, userID}
	_, ok := s.timeouts[key]
	delete(s.timeouts, key)
	return ok, nil
}

func (s *MemoryModerationStore) DeleteExpiredTimeouts(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, entry := range s.timeouts {
		if !now.Before(entry.ExpiresAt) {
			delete(s.timeouts, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryModerationStore) IsModerator(_ context.Context, channelID, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.moderators[channelUser{channelID, userID}]
	return ok, nil
}

func (s *MemoryModerationStore) AddModerator(_ context.Context, channelID, userID, _ uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moderators[channelUser{channelID, userID}] = struct{}{}
	return nil
}

func (s *MemoryModerationStore) RemoveModerator(_ context.Context, channelID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := channelUser{channelID, userID}
	_, ok := s.moderators[key]
	delete(s.moderators, key)
	return ok, nil
}
