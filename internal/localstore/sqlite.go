package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteBackend persists keys in a single kv table using modernc.org/sqlite.
type SQLiteBackend struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteBackend opens (or creates) the database at path.
// Parent directories are created if needed.
func NewSQLiteBackend(path string, log zerolog.Logger) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("NewSQLiteBackend: creating directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteBackend: opening database: %w", err)
	}

	// A single connection keeps writes serialized; the store is personal-scale.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewSQLiteBackend: enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewSQLiteBackend: creating schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("SQLite backend initialized")

	return &SQLiteBackend{db: db, log: log}, nil
}

// Get implements the Backend interface.
func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("SQLiteBackend.Get %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements the Backend interface.
func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("SQLiteBackend.Set: key is required")
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		if isDiskFull(err) {
			return fmt.Errorf("SQLiteBackend.Set %q: %w", key, ErrQuotaExceeded)
		}
		return fmt.Errorf("SQLiteBackend.Set %q: %w", key, err)
	}
	return nil
}

// Delete implements the Backend interface.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("SQLiteBackend.Delete %q: %w", key, err)
	}
	return nil
}

// Keys implements the Backend interface.
func (b *SQLiteBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("SQLiteBackend.Keys: querying: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("SQLiteBackend.Keys: scanning: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SQLiteBackend.Keys: iterating: %w", err)
	}
	return keys, nil
}

// Close implements the Backend interface.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func isDiskFull(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_FULL
	}
	return false
}

// Ensure SQLiteBackend implements Backend interface.
var _ Backend = (*SQLiteBackend)(nil)
