// File: internal/storage/sqlite.go
package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
	_ "modernc.org/sqlite"
)

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLStorage {
	return &SQLStorage{
		config:     config,
		dialect:    dialectSQLite,
		driver:     "sqlite",
		logger:     utils.ComponentLogger("storage"),
		migrations: GetSQLiteMigrations(),
	}
}

// sqliteDSN appends the connection pragmas every pooled connection needs
func sqliteDSN(path string) string {
	pragmas := "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return path + "?" + pragmas
}

func (s *SQLStorage) connectSQLite() error {
	// Ensure directory exists
	path := s.config.ConnectionString
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(strings.TrimPrefix(path, "file:"))
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(s.config.ConnectionString))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// a single writer connection keeps sqlite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping SQLite database", err.Error())
	}

	s.db = db
	s.logger.WithField("path", path).Info("SQLite database connected")
	return nil
}
