package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	utils "livecast/pkg/utils"

	"github.com/google/uuid"
)

// PostgresModerationStore backs moderation state with the chat_bans,
// chat_timeouts and channel_moderators tables.
type PostgresModerationStore struct {
	db *sql.DB
}

func NewPostgresModerationStore(db *sql.DB) *PostgresModerationStore {
	return &PostgresModerationStore{db: db}
}

func (s *PostgresModerationStore) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var found bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		utils.Logger.Errorf("Moderation lookup failed: %v", err)
		return false, fmt.Errorf("database error: %w", err)
	}
	return found, nil
}

func (s *PostgresModerationStore) deleted(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		utils.Logger.Errorf("Moderation delete failed: %v", err)
		return false, fmt.Errorf("database error: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}

func (s *PostgresModerationStore) IsBanned(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	return s.exists(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_bans WHERE channel_id = $1 AND user_id = $2)`,
		channelID, userID)
}

func (s *PostgresModerationStore) PutBan(ctx context.Context, ban *BanEntry) error {
	query := `
		INSERT INTO chat_bans (channel_id, user_id, username, banned_by, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel_id, user_id)
		DO UPDATE SET banned_by = EXCLUDED.banned_by, reason = EXCLUDED.reason, created_at = EXCLUDED.created_at
	`
	if ban.CreatedAt.IsZero() {
		ban.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		ban.ChannelID, ban.UserID, ban.Username, ban.BannedBy, ban.Reason, ban.CreatedAt)
	if err != nil {
		utils.Logger.Errorf("Error storing chat ban: %v", err)
		return fmt.Errorf("failed to store ban: %w", err)
	}
	return nil
}

func (s *PostgresModerationStore) DeleteBan(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	return s.deleted(ctx, `DELETE FROM chat_bans WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
}

func (s *PostgresModerationStore) ActiveTimeout(ctx context.Context, channelID, userID uuid.UUID, now time.Time) (*TimeoutEntry, error) {
	query := `
		SELECT channel_id, user_id, username, banned_by, expires_at, created_at
		FROM chat_timeouts
		WHERE channel_id = $1 AND user_id = $2 AND expires_at > $3
	`
	entry := &TimeoutEntry{}
	var bannedBy uuid.NullUUID
	err := s.db.QueryRowContext(ctx, query, channelID, userID, now).Scan(
		&entry.ChannelID, &entry.UserID, &entry.Username, &bannedBy, &entry.ExpiresAt, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		utils.Logger.Errorf("Error scanning chat timeout: %v", err)
		return nil, fmt.Errorf("database error: %w", err)
	}
	entry.BannedBy = bannedBy.UUID
	return entry, nil
}

func (s *PostgresModerationStore) PutTimeout(ctx context.Context, timeout *TimeoutEntry) error {
	query := `
		INSERT INTO chat_timeouts (channel_id, user_id, username, banned_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel_id, user_id)
		DO UPDATE SET banned_by = EXCLUDED.banned_by, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
	`
	if timeout.CreatedAt.IsZero() {
		timeout.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		timeout.ChannelID, timeout.UserID, timeout.Username, timeout.BannedBy, timeout.ExpiresAt, timeout.CreatedAt)
	if err != nil {
		utils.Logger.Errorf("Error storing chat timeout: %v", err)
		return fmt.Errorf("failed to store timeout: %w", err)
	}
	return nil
}

func (s *PostgresModerationStore) DeleteTimeout(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	return s.deleted(ctx, `DELETE FROM chat_timeouts WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
}

func (s *PostgresModerationStore) DeleteExpiredTimeouts(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_timeouts WHERE expires_at <= $1`, now)
	if err != nil {
		utils.Logger.Errorf("Error sweeping chat timeouts: %v", err)
		return 0, fmt.Errorf("database error: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresModerationStore) IsModerator(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	return s.exists(ctx,
		`SELECT EXISTS(SELECT 1 FROM channel_moderators WHERE channel_id = $1 AND user_id = $2)`,
		channelID, userID)
}

func (s *PostgresModerationStore) AddModerator(ctx context.Context, channelID, userID, grantedBy uuid.UUID) error {
	query := `
		INSERT INTO channel_moderators (channel_id, user_id, granted_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_id, user_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, channelID, userID, grantedBy); err != nil {
		utils.Logger.Errorf("Error adding channel moderator: %v", err)
		return fmt.Errorf("failed to add moderator: %w", err)
	}
	return nil
}

func (s *PostgresModerationStore) RemoveModerator(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	return s.deleted(ctx, `DELETE FROM channel_moderators WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
}
