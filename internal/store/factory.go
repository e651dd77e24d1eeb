package store

import (
	"fmt"
	"strings"
)

// New builds a Store from config, mirroring the teacher's db.NewStore
// factory switch (postgres/sqlite/empty-defaults-to-sqlite).
func New(config StoreConfig) (Store, error) {
	switch strings.ToLower(config.Type) {
	case "postgres", "postgresql":
		if config.DSN == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		return NewPostgresStore(config.DSN)
	case "sqlite", "sqlite3", "":
		dsn := config.DSN
		if dsn == "" {
			dsn = ".gator.db"
		}
		return NewSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
