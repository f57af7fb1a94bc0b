package limiter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQL dialects supported by SQLStore.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

const createThrottleTableSQL = `
CREATE TABLE IF NOT EXISTS throttle_state (
    cache_key VARCHAR(512) NOT NULL PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at BIGINT NOT NULL
)`

// SQLStore is a Store backed by a single SQL table. It supports Postgres,
// MySQL and SQLite.
//
// SQLStore does not implement Locker: two processes racing on the same
// cache key may lose an increment.
type SQLStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// NewSQLStore creates the throttle_state table if needed. The database
// driver must already be registered by the caller.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	switch dialect {
	case DialectPostgres, DialectMySQL, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createThrottleTableSQL); err != nil {
		return fmt.Errorf("failed to create throttle_state table: %w", err)
	}
	return nil
}

func (s *SQLStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	query := `SELECT value FROM throttle_state WHERE cache_key = ?`
	if s.dialect == DialectPostgres {
		query = `SELECT value FROM throttle_state WHERE cache_key = $1`
	}

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query state: %w", err)
	}
	return value, true, nil
}

func (s *SQLStore) Write(ctx context.Context, key string, value []byte) error {
	var query string
	switch s.dialect {
	case DialectPostgres:
		query = `
			INSERT INTO throttle_state (cache_key, value, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (cache_key)
			DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		`
	case DialectMySQL:
		query = `
			INSERT INTO throttle_state (cache_key, value, updated_at)
			VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)
		`
	default:
		query = `INSERT OR REPLACE INTO throttle_state (cache_key, value, updated_at) VALUES (?, ?, ?)`
	}

	if _, err := s.db.ExecContext(ctx, query, key, string(value), s.now().UnixNano()); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// DeleteBefore removes rows not written since t and returns how many were
// removed. Run it periodically to drop stale fixed-window counters.
func (s *SQLStore) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	query := `DELETE FROM throttle_state WHERE updated_at < ?`
	if s.dialect == DialectPostgres {
		query = `DELETE FROM throttle_state WHERE updated_at < $1`
	}

	res, err := s.db.ExecContext(ctx, query, t.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Dialect returns the SQL dialect.
func (s *SQLStore) Dialect() string {
	return s.dialect
}
