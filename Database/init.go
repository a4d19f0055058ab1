package database

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"livecast/Database/schema"
	"livecast/configs"

	_ "github.com/lib/pq"
)

var dbInstance *sql.DB
var dbInstanceError error
var dbOnce sync.Once

func GetPostgresDB(config *configs.Config) (*sql.DB, error) {
	dbOnce.Do(func() {
		connectionStr := config.GetDatabaseURL()
		db, err := sql.Open("postgres", connectionStr)
		if err != nil {
			dbInstanceError = fmt.Errorf("failed to connect to PostgreSQL: %v", err)
			return
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)

		err = db.Ping()
		if err != nil {
			dbInstanceError = fmt.Errorf("failed to ping PostgreSQL: %v", err)
			return
		}

		if err := schema.CreateAllTables(db); err != nil {
			dbInstanceError = fmt.Errorf("failed to create tables: %v", err)
			return
		}

		dbInstance = db
	})
	return dbInstance, dbInstanceError
}
