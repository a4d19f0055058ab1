package schema

import (
	"database/sql"
	"fmt"
	"strings"

	utils "livecast/pkg/utils"
)

// CreateUsersTable creates the users table. Only the columns the streaming and
// chat core reads are declared here; profile data lives elsewhere.
func CreateUsersTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			username VARCHAR(30) UNIQUE NOT NULL,
			role VARCHAR(16) NOT NULL DEFAULT 'user',
			stream_key VARCHAR(255) UNIQUE,
			can_stream BOOLEAN NOT NULL DEFAULT true,
			is_banned BOOLEAN NOT NULL DEFAULT false,
			is_partner BOOLEAN NOT NULL DEFAULT false,
			chat_color VARCHAR(16) NOT NULL DEFAULT '',
			badge VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
		CREATE INDEX IF NOT EXISTS idx_users_stream_key ON users(stream_key);

		ALTER TABLE users ADD CONSTRAINT chk_username_length CHECK (length(username) >= 3 AND length(username) <= 30);
		ALTER TABLE users ADD CONSTRAINT chk_role CHECK (role IN ('user', 'moderator', 'admin'));
		ALTER TABLE users ADD CONSTRAINT chk_stream_key_length CHECK (stream_key IS NULL OR length(stream_key) >= 16);

		CREATE OR REPLACE FUNCTION update_updated_at_column()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = NOW();
			RETURN NEW;
		END;
		$$ language 'plpgsql';

		CREATE TRIGGER update_users_updated_at
			BEFORE UPDATE ON users
			FOR EACH ROW
			EXECUTE FUNCTION update_updated_at_column();
	`

	if err := execIgnoringExisting(db, query); err != nil {
		utils.Logger.Errorf("Failed to create users table: %v", err)
		return fmt.Errorf("failed to create users table: %w", err)
	}

	utils.Logger.Info("Users table created successfully")
	return nil
}

// execIgnoringExisting runs DDL and swallows errors about objects that are
// already present, so startup stays idempotent.
func execIgnoringExisting(db *sql.DB, query string) error {
	_, err := db.Exec(query)
	if err == nil {
		return nil
	}
	dbErrStr := err.Error()
	if strings.Contains(dbErrStr, "already exists") ||
		strings.Contains(dbErrStr, "duplicate key value") ||
		strings.Contains(dbErrStr, "already defined") {
		return nil
	}
	return err
}
