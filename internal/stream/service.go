package stream

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"livecast/internal/metrics"
	"livecast/internal/security"
	utils "livecast/pkg/utils"

	"github.com/google/uuid"
)

// LifecycleListener is told when a session goes live or ends.
// Calls happen outside the service's locks.
type LifecycleListener interface {
	StreamStarted(session *StreamSession, owner *User)
	StreamEnded(session *StreamSession, reason string)
}

type StreamService struct {
	store      StreamStore
	hlsBaseURL string

	listenersMu sync.RWMutex
	listeners   []LifecycleListener

	locksMu   sync.Mutex
	userLocks map[uuid.UUID]*sync.Mutex
}

func NewStreamService(store StreamStore, hlsBaseURL string) *StreamService {
	return &StreamService{
		store:      store,
		hlsBaseURL: strings.TrimRight(hlsBaseURL, "/"),
		userLocks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func (ss *StreamService) AddListener(l LifecycleListener) {
	ss.listenersMu.Lock()
	defer ss.listenersMu.Unlock()
	ss.listeners = append(ss.listeners, l)
}

func (ss *StreamService) notifyStarted(session *StreamSession, owner *User) {
	ss.listenersMu.RLock()
	listeners := append([]LifecycleListener(nil), ss.listeners...)
	ss.listenersMu.RUnlock()
	for _, l := range listeners {
		l.StreamStarted(session, owner)
	}
}

func (ss *StreamService) notifyEnded(session *StreamSession, reason string) {
	ss.listenersMu.RLock()
	listeners := append([]LifecycleListener(nil), ss.listeners...)
	ss.listenersMu.RUnlock()
	for _, l := range listeners {
		l.StreamEnded(session, reason)
	}
}

// lockUser serializes go-live and end for one user.
func (ss *StreamService) lockUser(userID uuid.UUID) func() {
	ss.locksMu.Lock()
	mu, ok := ss.userLocks[userID]
	if !ok {
		mu = &sync.Mutex{}
		ss.userLocks[userID] = mu
	}
	ss.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Stream Key Management

// ValidateStreamKey maps a key to its owner. A key is valid when it belongs
// to a user who may stream and is not banned. It has no side effects.
func (ss *StreamService) ValidateStreamKey(ctx context.Context, key string) (*KeyValidation, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return &KeyValidation{Valid: false}, nil
	}

	user, err := ss.store.GetUserByStreamKey(ctx, key)
	if err != nil {
		utils.Logger.Errorf("Failed to validate stream key: %v", err)
		return nil, fmt.Errorf("failed to validate stream key: %w", err)
	}
	if user == nil || !user.MayStream() {
		return &KeyValidation{Valid: false}, nil
	}

	return &KeyValidation{
		Valid:    true,
		UserID:   user.ID.String(),
		Username: user.Username,
	}, nil
}

// generateSecureKey generates a cryptographically secure random key
func generateSecureKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// RegenerateStreamKey replaces the user's key. The old key stops validating immediately.
func (ss *StreamService) RegenerateStreamKey(ctx context.Context, userID uuid.UUID) (string, error) {
	key, err := generateSecureKey()
	if err != nil {
		utils.Logger.Errorf("Failed to generate stream key: %v", err)
		return "", fmt.Errorf("failed to generate stream key: %w", err)
	}

	if err := ss.store.UpdateStreamKey(ctx, userID, key); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to store stream key: %w", err)
	}

	utils.Logger.Infof("Regenerated stream key for user %s", userID)
	return key, nil
}

// SetStreamingAccess toggles whether a user may publish. Disabling access
// also ends the user's live session.
func (ss *StreamService) SetStreamingAccess(ctx context.Context, userID uuid.UUID, allowed bool) error {
	if err := ss.store.SetStreamingAccess(ctx, userID, allowed); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to update streaming access: %w", err)
	}

	utils.WithFields(map[string]interface{}{
		"user_id": userID,
		"allowed": allowed,
	}).Info("Streaming access updated")

	if allowed {
		return nil
	}
	_, err := ss.endActive(ctx, userID, EndReasonStreamingDisabled)
	return err
}

// Session lifecycle

// GoLive marks the key owner's session live. Calling it again while a
// session is live returns that session with created=false.
func (ss *StreamService) GoLive(ctx context.Context, key string, userID uuid.UUID) (*StreamSession, bool, error) {
	user, err := ss.store.GetUserByStreamKey(ctx, strings.TrimSpace(key))
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up stream key: %w", err)
	}
	if user == nil || !user.MayStream() {
		return nil, false, ErrInvalidStreamKey
	}
	if userID != uuid.Nil && user.ID != userID {
		utils.Logger.Warnf("Live notification user %s does not own key of %s", userID, user.ID)
		return nil, false, ErrInvalidStreamKey
	}

	unlock := ss.lockUser(user.ID)
	session, created, err := ss.goLiveLocked(ctx, user)
	unlock()
	if err != nil {
		return nil, false, err
	}

	if created {
		metrics.LiveSessions.Inc()
		utils.WithFields(map[string]interface{}{
			"session_id": session.ID,
			"user_id":    user.ID,
			"username":   user.Username,
		}).Info("Stream session started")
		ss.notifyStarted(session, user)
	}
	return session, created, nil
}

func (ss *StreamService) goLiveLocked(ctx context.Context, user *User) (*StreamSession, bool, error) {
	existing, err := ss.store.GetActiveSessionByUser(ctx, user.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check active session: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	session := &StreamSession{
		ID:        uuid.New(),
		UserID:    user.ID,
		Username:  user.Username,
		Title:     fmt.Sprintf("%s's stream", user.Username),
		StartedAt: time.Now(),
		HLSURL:    ss.hlsURL(user.Username),
	}

	err = ss.store.CreateSession(ctx, session)
	if errors.Is(err, ErrSessionAlreadyLive) {
		// another server instance won the insert
		existing, err := ss.store.GetActiveSessionByUser(ctx, user.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load active session: %w", err)
		}
		if existing != nil {
			return existing, false, nil
		}
		return nil, false, ErrSessionAlreadyLive
	}
	if err != nil {
		return nil, false, err
	}
	session.Username = user.Username
	return session, true, nil
}

func (ss *StreamService) hlsURL(username string) string {
	if ss.hlsBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/index.m3u8", ss.hlsBaseURL, username)
}

// EndByIngest handles the ended notification. It is a no-op when the user
// has no live session.
func (ss *StreamService) EndByIngest(ctx context.Context, key string, userID uuid.UUID) (*StreamSession, error) {
	if userID == uuid.Nil {
		user, err := ss.store.GetUserByStreamKey(ctx, strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("failed to look up stream key: %w", err)
		}
		if user == nil {
			return nil, nil
		}
		userID = user.ID
	}
	return ss.endActive(ctx, userID, EndReasonUnpublished)
}

func (ss *StreamService) endActive(ctx context.Context, userID uuid.UUID, reason string) (*StreamSession, error) {
	unlock := ss.lockUser(userID)
	session, err := ss.store.GetActiveSessionByUser(ctx, userID)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to check active session: %w", err)
	}
	if session == nil {
		unlock()
		return nil, nil
	}
	ended, err := ss.finish(ctx, session)
	unlock()
	if err != nil || !ended {
		return nil, err
	}

	ss.announceEnd(session, reason)
	return session, nil
}

func (ss *StreamService) finish(ctx context.Context, session *StreamSession) (bool, error) {
	now := time.Now()
	ended, err := ss.store.EndSession(ctx, session.ID, now)
	if err != nil {
		return false, fmt.Errorf("failed to end session: %w", err)
	}
	if ended {
		session.IsLive = false
		session.EndedAt = &now
	}
	return ended, nil
}

func (ss *StreamService) announceEnd(session *StreamSession, reason string) {
	metrics.LiveSessions.Dec()
	utils.WithFields(map[string]interface{}{
		"session_id": session.ID,
		"user_id":    session.UserID,
		"reason":     reason,
	}).Info("Stream session ended")
	ss.notifyEnded(session, reason)
}

// EndSession lets the owner end their own session.
func (ss *StreamService) EndSession(ctx context.Context, sessionID, actorID uuid.UUID) (*StreamSession, error) {
	session, err := ss.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != actorID {
		return nil, ErrNotSessionOwner
	}
	return ss.endSession(ctx, session, EndReasonOwnerEnded)
}

// ForceEnd ends any session. Callers must have checked the admin role.
func (ss *StreamService) ForceEnd(ctx context.Context, sessionID, adminID uuid.UUID) (*StreamSession, error) {
	session, err := ss.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	utils.Logger.Warnf("Admin %s force-ending session %s of user %s", adminID, session.ID, session.UserID)
	return ss.endSession(ctx, session, EndReasonForceEnded)
}

func (ss *StreamService) endSession(ctx context.Context, session *StreamSession, reason string) (*StreamSession, error) {
	if !session.IsLive {
		return nil, ErrSessionNotLive
	}

	unlock := ss.lockUser(session.UserID)
	ended, err := ss.finish(ctx, session)
	unlock()
	if err != nil {
		return nil, err
	}
	if !ended {
		return nil, ErrSessionNotLive
	}

	ss.announceEnd(session, reason)
	return session, nil
}

// Queries

func (ss *StreamService) GetSession(ctx context.Context, sessionID uuid.UUID) (*StreamSession, error) {
	session, err := ss.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		utils.Logger.Errorf("Failed to get session %s: %v", sessionID, err)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (ss *StreamService) GetLiveSessions(ctx context.Context) ([]*StreamSession, error) {
	sessions, err := ss.store.GetLiveSessions(ctx)
	if err != nil {
		utils.Logger.Errorf("Failed to get live sessions: %v", err)
		return nil, fmt.Errorf("failed to get live sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionInfo lets the owner edit title and category.
func (ss *StreamService) UpdateSessionInfo(ctx context.Context, sessionID, actorID uuid.UUID, title, category *string) (*StreamSession, error) {
	session, err := ss.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != actorID {
		return nil, ErrNotSessionOwner
	}

	if title != nil {
		*title = strings.TrimSpace(*title)
		if *title == "" || len(*title) > 200 {
			return nil, fmt.Errorf("%w: title must be 1-200 characters", ErrInvalidInput)
		}
	}
	if category != nil {
		*category = strings.TrimSpace(*category)
		if len(*category) > 100 {
			return nil, fmt.Errorf("%w: category too long", ErrInvalidInput)
		}
	}

	if err := ss.store.UpdateSessionInfo(ctx, sessionID, title, category); err != nil {
		return nil, fmt.Errorf("failed to update session info: %w", err)
	}

	utils.Logger.Infof("Updated stream info for session %s", sessionID)
	return ss.GetSession(ctx, sessionID)
}

// User lookups used by chat

// LookupUser finds a user by name. It returns ErrUserNotFound when absent.
func (ss *StreamService) LookupUser(ctx context.Context, username string) (*User, error) {
	user, err := ss.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GetUser finds a user by id. It returns ErrUserNotFound when absent.
func (ss *StreamService) GetUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := ss.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ResolveRole returns the user's current site role from the store.
func (ss *StreamService) ResolveRole(ctx context.Context, userID uuid.UUID) (security.Role, error) {
	user, err := ss.GetUser(ctx, userID)
	if err != nil {
		return security.RoleGuest, err
	}
	return user.Role, nil
}

func (ss *StreamService) CheckHealth() error {
	return ss.store.CheckDBConnection()
}
