package schema

import (
	"database/sql"
	"fmt"

	utils "livecast/pkg/utils"
)

// CreateStreamSessionsTable creates the stream_sessions table
func CreateStreamSessionsTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS stream_sessions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title VARCHAR(200) NOT NULL DEFAULT '',
			category VARCHAR(100) NOT NULL DEFAULT '',
			is_live BOOLEAN NOT NULL DEFAULT true,
			viewer_count INTEGER NOT NULL DEFAULT 0,
			hls_url VARCHAR(2048) NOT NULL DEFAULT '',
			started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_stream_sessions_user_id ON stream_sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_stream_sessions_started_at ON stream_sessions(started_at);

		-- One live session per user
		CREATE UNIQUE INDEX IF NOT EXISTS idx_stream_sessions_one_live ON stream_sessions(user_id) WHERE is_live = true;

		ALTER TABLE stream_sessions ADD CONSTRAINT chk_viewer_count CHECK (viewer_count >= 0);
		ALTER TABLE stream_sessions ADD CONSTRAINT chk_ended_at_after_started CHECK (ended_at IS NULL OR ended_at >= started_at);

		CREATE TRIGGER update_stream_sessions_updated_at
			BEFORE UPDATE ON stream_sessions
			FOR EACH ROW
			EXECUTE FUNCTION update_updated_at_column();
	`

	if err := execIgnoringExisting(db, query); err != nil {
		utils.Logger.Errorf("Failed to create stream_sessions table: %v", err)
		return fmt.Errorf("failed to create stream_sessions table: %w", err)
	}

	utils.Logger.Info("Stream sessions table created successfully")
	return nil
}

// CreateAllTables creates every table in dependency order
func CreateAllTables(db *sql.DB) error {
	tables := []struct {
		name string
		fn   func(*sql.DB) error
	}{
		{"users", CreateUsersTable},
		{"stream_sessions", CreateStreamSessionsTable},
		{"chat_bans", CreateChatBansTable},
		{"chat_timeouts", CreateChatTimeoutsTable},
		{"channel_moderators", CreateChannelModeratorsTable},
		{"moderation_audit_log", CreateModerationAuditLogTable},
	}

	for _, table := range tables {
		utils.Logger.Infof("Creating %s table...", table.name)
		if err := table.fn(db); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}

	utils.Logger.Info("All tables created successfully")
	return nil
}
