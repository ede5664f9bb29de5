package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// NewPostgreSQLStorage creates a new PostgreSQL storage instance. The
// "pgx" type selects the pgx driver, anything else uses lib/pq.
func NewPostgreSQLStorage(config *StorageConfig) *SQLStorage {
	return &SQLStorage{
		config:     config,
		dialect:    dialectPostgres,
		driver:     postgresDriver(config.Type),
		logger:     utils.ComponentLogger("storage"),
		migrations: GetPostgresMigrations(),
	}
}

func postgresDriver(dbType string) string {
	if strings.EqualFold(dbType, "pgx") {
		return "pgx"
	}
	return "postgres"
}

func (s *SQLStorage) connectPostgres() error {
	db, err := sql.Open(s.driver, s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	maxConns := s.config.MaxConnections
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	s.db = db
	s.logger.WithField("driver", s.driver).Info("PostgreSQL database connected")
	return nil
}
