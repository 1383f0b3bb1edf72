package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	// SQLite driver - imported for side effects (registers the driver).
	// modernc.org/sqlite is a pure-Go implementation that doesn't require CGO.
	_ "modernc.org/sqlite"

	apperrors "github.com/picbreeder/host/internal/errors"
	"github.com/picbreeder/host/internal/logging"
)

// SQLiteKV implements KV on a single SQLite table. The capacity check and
// the write run in one transaction so a rejected write never lands.
type SQLiteKV struct {
	db       *sql.DB      // Database connection handle.
	mu       sync.RWMutex // Serializes writers; readers share.
	capacity int64
	logger   *zap.Logger
}

// NewSQLiteKV opens or creates a SQLite database at the given path and
// bounds its payload at capacity bytes (zero or less means unbounded).
// Use ":memory:" for an in-memory database.
func NewSQLiteKV(path string, capacity int64, logger *zap.Logger) (*SQLiteKV, error) {
	logger = logging.OrNop(logger).Named("storage")
	logger.Debug("opening primary store", zap.String("path", path))

	db, err := openSQLite(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open primary store", err)
	}

	store := &SQLiteKV{db: db, capacity: capacity, logger: logger}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "init schema", err)
	}

	logger.Debug("primary store ready", zap.Int("schema_version", currentSchemaVersion))
	return store, nil
}

// openSQLite opens path with a busy timeout so the CLI and a running
// server can share the file. One connection keeps ":memory:" databases
// coherent.
func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Close releases the database connection.
func (s *SQLiteKV) Close() error {
	s.logger.Debug("closing primary store")
	return s.db.Close()
}

func (s *SQLiteKV) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "get "+key, err)
	}
	return value, nil
}

func (s *SQLiteKV) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "begin write", err)
	}
	defer tx.Rollback()

	if s.capacity > 0 {
		var others int64
		const usageQuery = `SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(value)), 0) FROM kv WHERE key != ?`
		if err := tx.QueryRow(usageQuery, key).Scan(&others); err != nil {
			return apperrors.Wrap(apperrors.CodeStorageQueryFailed, "measure usage", err)
		}
		if total := others + entrySize(key, value); total > s.capacity {
			s.logger.Warn("write rejected by capacity ceiling",
				zap.String("key", key),
				zap.Int64("needed", total),
				zap.Int64("capacity", s.capacity))
			return quotaError(total, s.capacity)
		}
	}

	const upsert = `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := tx.Exec(upsert, key, value, time.Now().Format(time.RFC3339Nano)); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "set "+key, err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "commit "+key, err)
	}
	return nil
}

func (s *SQLiteKV) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "remove "+key, err)
	}
	return nil
}
