package stream

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"livecast/internal/security"
	utils "livecast/pkg/utils"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type StreamStoreImpl struct {
	db *sql.DB
}

func NewStreamStore(db *sql.DB) *StreamStoreImpl {
	return &StreamStoreImpl{db: db}
}

// User lookups

const userColumns = `id, username, role, stream_key, can_stream, is_banned, is_partner, chat_color, badge`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	user := &User{}
	var role string
	var streamKey sql.NullString
	err := row.Scan(
		&user.ID, &user.Username, &role, &streamKey, &user.CanStream,
		&user.IsBanned, &user.IsPartner, &user.ChatColor, &user.Badge,
	)
	if err != nil {
		return nil, err
	}
	user.Role = security.ParseRole(role)
	if streamKey.Valid {
		user.StreamKey = &streamKey.String
	}
	return user, nil
}

func (ss *StreamStoreImpl) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	user, err := scanUser(ss.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		utils.Logger.Errorf("Error scanning user (%s): %v", where, err)
		return nil, fmt.Errorf("database error: %w", err)
	}
	return user, nil
}

func (ss *StreamStoreImpl) GetUserByStreamKey(ctx context.Context, key string) (*User, error) {
	return ss.getUser(ctx, "stream_key = $1", key)
}

func (ss *StreamStoreImpl) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return ss.getUser(ctx, "id = $1", id)
}

func (ss *StreamStoreImpl) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return ss.getUser(ctx, "LOWER(username) = LOWER($1)", username)
}

func (ss *StreamStoreImpl) UpdateStreamKey(ctx context.Context, userID uuid.UUID, key string) error {
	result, err := ss.db.ExecContext(ctx, `UPDATE users SET stream_key = $1 WHERE id = $2`, key, userID)
	if err != nil {
		utils.Logger.Errorf("Error updating stream key: %v", err)
		return fmt.Errorf("failed to update stream key: %w", err)
	}
	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (ss *StreamStoreImpl) SetStreamingAccess(ctx context.Context, userID uuid.UUID, allowed bool) error {
	result, err := ss.db.ExecContext(ctx, `UPDATE users SET can_stream = $1 WHERE id = $2`, allowed, userID)
	if err != nil {
		utils.Logger.Errorf("Error updating streaming access: %v", err)
		return fmt.Errorf("failed to update streaming access: %w", err)
	}
	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Session management

const sessionColumns = `s.id, s.user_id, u.username, s.title, s.category, s.is_live, s.hls_url,
	s.started_at, s.ended_at, s.created_at, s.updated_at`

func scanSession(row interface{ Scan(...interface{}) error }) (*StreamSession, error) {
	session := &StreamSession{}
	var endedAt sql.NullTime
	err := row.Scan(
		&session.ID, &session.UserID, &session.Username, &session.Title, &session.Category,
		&session.IsLive, &session.HLSURL, &session.StartedAt, &endedAt,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	return session, nil
}

func (ss *StreamStoreImpl) CreateSession(ctx context.Context, session *StreamSession) error {
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		utils.Logger.Errorf("Failed to begin transaction: %v", err)
		return fmt.Errorf("database error: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	session.IsLive = true
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}

	query := `
		INSERT INTO stream_sessions (id, user_id, title, category, is_live, hls_url, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = tx.ExecContext(ctx, query,
		session.ID, session.UserID, session.Title, session.Category, session.IsLive,
		session.HLSURL, session.StartedAt, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrSessionAlreadyLive
		}
		utils.Logger.Errorf("Error creating stream session: %v", err)
		return fmt.Errorf("failed to create stream session: %w", err)
	}

	return tx.Commit()
}

func (ss *StreamStoreImpl) GetSessionByID(ctx context.Context, id uuid.UUID) (*StreamSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM stream_sessions s JOIN users u ON u.id = s.user_id
		WHERE s.id = $1`

	session, err := scanSession(ss.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		utils.Logger.Errorf("Error scanning stream session by ID: %v", err)
		return nil, fmt.Errorf("database error: %w", err)
	}
	return session, nil
}

func (ss *StreamStoreImpl) GetActiveSessionByUser(ctx context.Context, userID uuid.UUID) (*StreamSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM stream_sessions s JOIN users u ON u.id = s.user_id
		WHERE s.user_id = $1 AND s.is_live = true`

	session, err := scanSession(ss.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		utils.Logger.Errorf("Error scanning active stream session: %v", err)
		return nil, fmt.Errorf("database error: %w", err)
	}
	return session, nil
}

func (ss *StreamStoreImpl) GetLiveSessions(ctx context.Context) ([]*StreamSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM stream_sessions s JOIN users u ON u.id = s.user_id
		WHERE s.is_live = true ORDER BY s.started_at DESC`

	rows, err := ss.db.QueryContext(ctx, query)
	if err != nil {
		utils.Logger.Errorf("Error querying live sessions: %v", err)
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var sessions []*StreamSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			utils.Logger.Errorf("Error scanning live session: %v", err)
			return nil, fmt.Errorf("database error: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (ss *StreamStoreImpl) EndSession(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	query := `
		UPDATE stream_sessions
		SET is_live = false, ended_at = $1
		WHERE id = $2 AND is_live = true
	`

	result, err := ss.db.ExecContext(ctx, query, endedAt, id)
	if err != nil {
		utils.Logger.Errorf("Error ending stream session: %v", err)
		return false, fmt.Errorf("failed to end stream session: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}

func (ss *StreamStoreImpl) UpdateSessionInfo(ctx context.Context, id uuid.UUID, title, category *string) error {
	setParts := []string{}
	args := []interface{}{}
	argIndex := 1

	if title != nil {
		setParts = append(setParts, fmt.Sprintf("title = $%d", argIndex))
		args = append(args, *title)
		argIndex++
	}
	if category != nil {
		setParts = append(setParts, fmt.Sprintf("category = $%d", argIndex))
		args = append(args, *category)
		argIndex++
	}
	if len(setParts) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE stream_sessions SET %s WHERE id = $%d", strings.Join(setParts, ", "), argIndex)
	args = append(args, id)

	result, err := ss.db.ExecContext(ctx, query, args...)
	if err != nil {
		utils.Logger.Errorf("Error updating stream session info: %v", err)
		return fmt.Errorf("failed to update stream session: %w", err)
	}
	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Utility Methods

func (ss *StreamStoreImpl) CheckDBConnection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ss.db.PingContext(ctx)
}
