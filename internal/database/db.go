package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/meetsmatch/roommates/internal/telemetry"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = stderrors.New("record not found")

type DB struct {
	*sql.DB
}

type Config struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders the lib/pq keyword/value connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Pool limits applied to every connection.
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

// NewConnection opens a plain lib/pq pool and verifies it with a ping.
func NewConnection(config Config) (*DB, error) {
	return connect(config, "postgres", func() (*sql.DB, error) {
		return sql.Open("postgres", config.DSN())
	})
}

// NewInstrumentedConnection opens the pool through otelsql so every query is
// traced, and registers the pool stats metrics.
func NewInstrumentedConnection(config Config) (*DB, error) {
	port, _ := strconv.Atoi(config.Port)
	dbAttrs := []attribute.KeyValue{semconv.DBSystemPostgreSQL, semconv.DBName(config.DBName)}
	peerAttrs := append(dbAttrs[:len(dbAttrs):len(dbAttrs)], semconv.NetPeerName(config.Host), semconv.NetPeerPort(port))

	db, err := connect(config, "otelsql", func() (*sql.DB, error) {
		return otelsql.Open("postgres", config.DSN(), otelsql.WithAttributes(peerAttrs...))
	})
	if err != nil {
		return nil, err
	}
	if err := otelsql.RegisterDBStatsMetrics(db.DB, otelsql.WithAttributes(dbAttrs...)); err != nil {
		telemetry.GetContextualLogger(context.Background()).WithError(err).Warn("Failed to register database stats")
	}
	return db, nil
}

func connect(config Config, driver string, open func() (*sql.DB, error)) (*DB, error) {
	ctx := telemetry.WithCorrelationID(context.Background(), "")
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "database_connect",
		"driver":    driver,
		"host":      config.Host,
		"port":      config.Port,
		"database":  config.DBName,
	})

	db, err := open()
	if err != nil {
		logger.WithError(err).Error("Failed to open database")
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("Database did not answer ping")
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")
	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// Health pings the pool; it backs the "database" health component.
func (db *DB) Health(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		telemetry.GetContextualLogger(ctx).WithField("operation", "database_health_check").
			WithError(err).Warn("Database ping failed")
		return err
	}
	return nil
}

// WithTransaction runs fn inside a transaction, committing when fn returns nil
// and rolling back otherwise. A nil opts uses the driver default isolation.
func (db *DB) WithTransaction(ctx context.Context, opts *sql.TxOptions, fn func(*sql.Tx) error) (err error) {
	logger := telemetry.GetContextualLogger(ctx).WithField("operation", "database_transaction")

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		logger.WithError(err).Error("Failed to begin transaction")
		return err
	}

	defer func() {
		switch p := recover(); {
		case p != nil:
			_ = tx.Rollback()
			panic(p)
		case err != nil:
			logger.WithError(err).Debug("Rolling back transaction")
			_ = tx.Rollback()
		default:
			if err = tx.Commit(); err != nil {
				logger.WithError(err).Error("Failed to commit transaction")
			}
		}
	}()

	return fn(tx)
}

// PostgreSQL error codes that mean "the same statements may succeed if retried".
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

// IsSerializationFailure reports whether err is a serialization or deadlock abort.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}
