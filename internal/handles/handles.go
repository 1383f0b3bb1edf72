// Package handles persists folder capability handles across restarts.
//
// A handle names a user-granted write location for one purpose. The store
// keeps at most one handle per purpose (last write wins) in its own SQLite
// database, independent of the primary store. Holding a handle does not
// imply write access: callers pass it through the permission gate before
// every use.
package handles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	apperrors "github.com/picbreeder/host/internal/errors"
	"github.com/picbreeder/host/internal/logging"
)

// Purpose keys a handle record.
type Purpose string

const (
	// SaveFolder receives whole-history exports.
	SaveFolder Purpose = "saveFolder"
	// ImagesFolder receives per-image disk mirror writes.
	ImagesFolder Purpose = "imagesFolder"
)

// Purposes lists every valid purpose key.
var Purposes = []Purpose{SaveFolder, ImagesFolder}

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == SaveFolder || p == ImagesFolder
}

// Handle is an opaque reference to a granted folder.
type Handle struct {
	Path      string    `json:"path"`
	GrantedAt time.Time `json:"granted_at"`
}

// Store is the handle namespace. The backing database is opened on first
// use; concurrent first callers share the single open attempt.
type Store struct {
	path   string
	logger *zap.Logger

	openOnce sync.Once
	db       *sql.DB
	openErr  error
}

// NewStore returns a store backed by the SQLite file at path. Nothing is
// opened until the first operation.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logging.OrNop(logger).Named("handles")}
}

// conn returns the memoized connection, opening it on first call.
func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	s.openOnce.Do(func() {
		// The open outlives the first caller's cancellation.
		s.db, s.openErr = s.open(context.WithoutCancel(ctx))
	})
	return s.db, s.openErr
}

func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	s.logger.Debug("opening handle store", zap.String("path", s.path))

	db, err := sql.Open("sqlite", s.path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeHandleOpenFailed, "open handle store", err)
	}
	db.SetMaxOpenConns(1)

	const handlesTable = `
		CREATE TABLE IF NOT EXISTS handles (
			purpose TEXT PRIMARY KEY,
			handle TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	if _, err := db.ExecContext(ctx, handlesTable); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeHandleOpenFailed, "create handles table", err)
	}
	return db, nil
}

// Put stores h under purpose, replacing any previous handle.
func (s *Store) Put(ctx context.Context, purpose Purpose, h Handle) error {
	if !purpose.Valid() {
		return fmt.Errorf("unknown handle purpose %q", purpose)
	}
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode handle: %w", err)
	}

	const upsert = `
		INSERT INTO handles (purpose, handle, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(purpose) DO UPDATE SET handle = excluded.handle, updated_at = excluded.updated_at
	`
	if _, err := db.ExecContext(ctx, upsert, string(purpose), string(data), time.Now().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("put handle %s: %w", purpose, err)
	}
	s.logger.Debug("handle stored", zap.String("purpose", string(purpose)), zap.String("path", h.Path))
	return nil
}

// Get returns the handle for purpose, or nil with no error if none is set.
func (s *Store) Get(ctx context.Context, purpose Purpose) (*Handle, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var data string
	err = db.QueryRowContext(ctx, `SELECT handle FROM handles WHERE purpose = ?`, string(purpose)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get handle %s: %w", purpose, err)
	}

	var h Handle
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return nil, fmt.Errorf("decode handle %s: %w", purpose, err)
	}
	return &h, nil
}

// Delete clears the handle for purpose. Clearing an absent handle is not an error.
func (s *Store) Delete(ctx context.Context, purpose Purpose) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM handles WHERE purpose = ?`, string(purpose)); err != nil {
		return fmt.Errorf("delete handle %s: %w", purpose, err)
	}
	return nil
}

// Close releases the connection if it was ever opened.
func (s *Store) Close() error {
	// Consume the Once so a later conn call cannot open a new connection.
	s.openOnce.Do(func() { s.openErr = errors.New("handle store closed") })
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
