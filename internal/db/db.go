// Package db provides the SQL-backed target store for bifrost.
// It connects to PostgreSQL (lib/pq) or SQLite (modernc.org/sqlite), runs the
// embedded schema migrations and persists the target table with its status
// cells.
package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/anstrom/bifrost/internal/errors"
	"github.com/anstrom/bifrost/internal/logging"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	// DriverMemory keeps the table in process; it never reaches this package.
	DriverMemory = "memory"
)

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5
	defaultConnMaxIdleTime = 5
	defaultSQLitePath      = "/var/lib/bifrost/bifrost.db"
	sqliteDirPerm          = 0750
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// sanitizeDBError converts raw database errors into errors that don't expose
// SQL details or credentials. The original error is kept as Cause.
func sanitizeDBError(operation string, err error) error {
	if err == nil {
		return nil
	}

	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NewDatabaseError(errors.CodeNotFound, "Resource not found")
	}

	var dbErr *errors.DatabaseError
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503", "23502", "23514", "23505":
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Data validation failed")
		case "57014": // query_canceled
			dbErr = errors.NewDatabaseError(errors.CodeCanceled, "Database operation was canceled")
		case "57P01", "08000", "08003", "08006":
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection error")
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		dbErr = errors.NewDatabaseError(errors.CodeDatabaseTimeout, "Database operation timed out")
	}
	if dbErr == nil {
		dbErr = errors.NewDatabaseError(errors.CodeDatabaseQuery, fmt.Sprintf("Database operation failed: %s", operation))
	}
	dbErr.Operation = operation
	dbErr.Cause = err
	return dbErr
}

// DB wraps sqlx.DB with additional functionality.
type DB struct {
	*sqlx.DB
	driver string
}

// Config holds database configuration.
type Config struct {
	Driver          string        `yaml:"driver" json:"driver" validate:"oneof=sqlite postgres memory"`
	Path            string        `yaml:"path" json:"path"`
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration: a local SQLite
// file. PostgreSQL credentials must be configured explicitly.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		Path:            defaultSQLitePath,
		Host:            "localhost",
		Port:            defaultPostgresPort,
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime * time.Minute,
		ConnMaxIdleTime: defaultConnMaxIdleTime * time.Minute,
	}
}

// dsn builds the driver-specific data source name.
func (c *Config) dsn() (string, error) {
	switch c.Driver {
	case DriverPostgres:
		// lib/pq escapes values in key=value form.
		return fmt.Sprintf(
			"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
			c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode,
		), nil
	case DriverSQLite:
		if c.Path == "" {
			return "", errors.ErrConfigMissing("store.path")
		}
		return "file:" + c.Path +
			"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	}
	return "", errors.ErrConfigInvalid("store.driver", c.Driver)
}

// Connect opens and verifies a database connection.
// Returned errors never include the DSN.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	dsn, err := config.dsn()
	if err != nil {
		return nil, err
	}

	if config.Driver == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(config.Path), sqliteDirPerm); err != nil {
			return nil, errors.ErrDatabaseConnection(err)
		}
	}

	conn, err := sqlx.ConnectContext(ctx, config.Driver, dsn)
	if err != nil {
		return nil, errors.ErrDatabaseConnection(err)
	}

	if config.Driver == DriverSQLite {
		// SQLite allows a single writer.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(config.MaxOpenConns)
		conn.SetMaxIdleConns(config.MaxIdleConns)
		conn.SetConnMaxLifetime(config.ConnMaxLifetime)
		conn.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "Failed to verify database connection", err)
	}

	if config.Driver == DriverSQLite {
		logging.Default().InfoDatabase("Connected to database", "driver", config.Driver, "path", config.Path)
	} else {
		logging.Default().InfoDatabase("Connected to database",
			"driver", config.Driver, "host", config.Host, "port", config.Port, "database", config.Database)
	}
	return &DB{DB: conn, driver: config.Driver}, nil
}

// Wrap adapts an existing sqlx handle, e.g. one backed by go-sqlmock.
func Wrap(conn *sqlx.DB) *DB {
	return &DB{DB: conn, driver: conn.DriverName()}
}

// Driver returns the driver name the connection was opened with.
func (db *DB) Driver() string {
	return db.driver
}

// Ping tests the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// ConnectAndMigrate connects to the database and applies pending migrations.
func ConnectAndMigrate(ctx context.Context, config *Config) (*DB, error) {
	conn, err := Connect(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := NewMigrator(conn.DB).Up(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseMigration, "Migration failed", err)
	}
	return conn, nil
}
