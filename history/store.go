package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	// connectionTimeout bounds the connectivity check on open.
	connectionTimeout = 5 * time.Second

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// schema is applied on open. The table is append-only; pruning is the
// only delete path.
const schema = `
CREATE TABLE IF NOT EXISTS push_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	device_uuid TEXT NOT NULL,
	namespace   TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_push_history_device
	ON push_history (device_uuid, created_at DESC);
`

// Config contains store configuration options.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// The directory will be created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging for better concurrent access.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock
	// (seconds).
	BusyTimeout int
}

// Entry is one recorded notification.
type Entry struct {
	ID         int64           `json:"id"`
	DeviceUUID string          `json:"device_uuid"`
	Namespace  string          `json:"namespace"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store records device notifications in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the database file if needed, applies the schema and
// verifies connectivity.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history: database path is required")
	}
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5
	}
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, busyTimeout*msPerSecond)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	// Owner read/write only; ignore error on first run before the file
	// exists.
	_ = os.Chmod(cfg.Path, filePermissions)

	return &Store{db: db, path: cfg.Path}, nil
}

// Record inserts one notification for a device.
func (s *Store) Record(ctx context.Context, deviceUUID, namespace string, payload json.RawMessage) error {
	if deviceUUID == "" {
		return fmt.Errorf("device uuid is required")
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO push_history (device_uuid, namespace, payload) VALUES (?, ?, ?)",
		deviceUUID, namespace, string(payload),
	)
	if err != nil {
		return fmt.Errorf("inserting push history: %w", err)
	}
	return nil
}

// History returns recent entries for a device, newest first. The limit
// defaults to 50 and is capped at 200.
func (s *Store) History(ctx context.Context, deviceUUID string, limit int) ([]Entry, error) {
	if deviceUUID == "" {
		return nil, fmt.Errorf("device uuid is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_uuid, namespace, payload, created_at
		 FROM push_history
		 WHERE device_uuid = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceUUID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying push history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var payload, createdAt string
		if err := rows.Scan(&entry.ID, &entry.DeviceUUID, &entry.Namespace, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning push history: %w", err)
		}
		entry.Payload = json.RawMessage(payload)
		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = ts
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating push history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than the given duration and returns the
// number of rows removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM push_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting push history: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows, nil
}

// HealthCheck verifies the database is accessible.
func (s *Store) HealthCheck(ctx context.Context) error {
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("history health check failed: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing history store: %w", err)
	}
	return nil
}

// parseTimestamp parses a timestamp stored by SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return ts, nil
	}
	fallback, fallbackErr := time.Parse("2006-01-02 15:04:05", value)
	if fallbackErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
