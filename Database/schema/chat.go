package schema

import (
	"database/sql"
	"fmt"

	utils "livecast/pkg/utils"
)

// CreateChatBansTable creates the permanent per-channel ban table
func CreateChatBansTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS chat_bans (
			channel_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			username VARCHAR(30) NOT NULL DEFAULT '',
			banned_by UUID REFERENCES users(id) ON DELETE SET NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (channel_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_chat_bans_user_id ON chat_bans(user_id);
	`

	if err := execIgnoringExisting(db, query); err != nil {
		utils.Logger.Errorf("Failed to create chat_bans table: %v", err)
		return fmt.Errorf("failed to create chat_bans table: %w", err)
	}

	utils.Logger.Info("Chat bans table created successfully")
	return nil
}

// CreateChatTimeoutsTable creates the time-bounded chat suppression table
func CreateChatTimeoutsTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS chat_timeouts (
			channel_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			username VARCHAR(30) NOT NULL DEFAULT '',
			banned_by UUID REFERENCES users(id) ON DELETE SET NULL,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (channel_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_chat_timeouts_expires_at ON chat_timeouts(expires_at);
	`

	if err := execIgnoringExisting(db, query); err != nil {
		utils.Logger.Errorf("Failed to create chat_timeouts table: %v", err)
		return fmt.Errorf("failed to create chat_timeouts table: %w", err)
	}

	utils.Logger.Info("Chat timeouts table created successfully")
	return nil
}

// CreateChannelModeratorsTable creates the per-channel moderator set
func CreateChannelModeratorsTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS channel_moderators (
			channel_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			granted_by UUID REFERENCES users(id) ON DELETE SET NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (channel_id, user_id)
		);
	`

	if err := execIgnoringExisting(db, query); err != nil {
		utils.Logger.Errorf("Failed to create channel_moderators table: %v", err)
		return fmt.Errorf("failed to create channel_moderators table: %w", err)
	}

	utils.Logger.Info("Channel moderators table created successfully")
	return nil
}

// CreateModerationAuditLogTable creates the append-only moderation audit trail
func CreateModerationAuditLogTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS moderation_audit_log (
			id UUID PRIMARY KEY,
			event_type VARCHAR(64) NOT NULL,
			actor_id UUID,
			target_id UUID,
			channel_id UUID,
			details JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_moderation_audit_channel ON moderation_audit_log(channel_id, created_at);
	`

	if err := execIgnoringExisting(db, query); err != nil {
		utils.Logger.Errorf("Failed to create moderation_audit_log table: %v", err)
		return fmt.Errorf("failed to create moderation_audit_log table: %w", err)
	}

	utils.Logger.Info("Moderation audit log table created successfully")
	return nil
}
