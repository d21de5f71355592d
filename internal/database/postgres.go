// Package database provides PostgreSQL storage for active reminders.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/andygrunwald/nordpool-prices/internal/reminder"
)

const schema = `
	CREATE TABLE IF NOT EXISTS active_reminders (
		start_at_ms BIGINT PRIMARY KEY,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// DB wraps the PostgreSQL connection and implements reminder.Store.
type DB struct {
	db     *sql.DB
	logger zerolog.Logger
}

var (
	_ reminder.Store   = (*DB)(nil)
	_ reminder.Counter = (*DB)(nil)
)

// New creates a new database connection.
func New(dsn string, logger zerolog.Logger) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an already opened connection.
func NewWithDB(db *sql.DB, logger zerolog.Logger) *DB {
	return &DB{
		db:     db,
		logger: logger.With().Str("component", "database").Logger(),
	}
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// EnsureSchema creates the reminder table if it does not exist.
func (d *DB) EnsureSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Add stores a reminder key. Adding an existing key is a no-op.
func (d *DB) Add(ctx context.Context, key reminder.Key) error {
	query := `
		INSERT INTO active_reminders (start_at_ms)
		VALUES ($1)
		ON CONFLICT (start_at_ms) DO NOTHING
	`

	if _, err := d.db.ExecContext(ctx, query, int64(key)); err != nil {
		return fmt.Errorf("inserting reminder: %w", err)
	}

	d.logger.Debug().Int64("key", int64(key)).Msg("inserted reminder")
	return nil
}

// Remove deletes a reminder key.
func (d *DB) Remove(ctx context.Context, key reminder.Key) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM active_reminders WHERE start_at_ms = $1", int64(key)); err != nil {
		return fmt.Errorf("deleting reminder: %w", err)
	}
	return nil
}

// Keys returns all stored reminder keys in ascending order.
func (d *DB) Keys(ctx context.Context) ([]reminder.Key, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT start_at_ms FROM active_reminders ORDER BY start_at_ms")
	if err != nil {
		return nil, fmt.Errorf("querying reminders: %w", err)
	}
	defer rows.Close()

	var keys []reminder.Key
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning reminder: %w", err)
		}
		keys = append(keys, reminder.Key(v))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reminders: %w", err)
	}
	return keys, nil
}

// Has reports whether key is stored.
func (d *DB) Has(ctx context.Context, key reminder.Key) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM active_reminders WHERE start_at_ms = $1)", int64(key)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("looking up reminder: %w", err)
	}
	return exists, nil
}

// Prune deletes keys whose hour started before now.
func (d *DB) Prune(ctx context.Context, now time.Time) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM active_reminders WHERE start_at_ms < $1", now.UnixMilli())
	if err != nil {
		return fmt.Errorf("pruning reminders: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		d.logger.Debug().Int64("removed", n).Msg("pruned expired reminders")
	}
	return nil
}

// Count returns the number of stored keys whose hour has not started before now.
func (d *DB) Count(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM active_reminders WHERE start_at_ms >= $1", now.UnixMilli()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting reminders: %w", err)
	}
	return count, nil
}
