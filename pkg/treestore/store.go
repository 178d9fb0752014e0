package treestore

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/lib/pq"

	"github.com/lsclear/sandbox/pkg/errdefs"
	"github.com/lsclear/sandbox/pkg/log"
)

// schema is applied at startup. Sibling uniqueness needs two partial indexes
// because Postgres treats NULLs as distinct in a plain unique constraint:
// root-level names collide on (user_id, name), nested names on
// (user_id, parent_id, name).
const schema = `
CREATE TABLE IF NOT EXISTS fs_nodes (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT NOT NULL,
	parent_id  BIGINT REFERENCES fs_nodes(id) ON DELETE CASCADE,
	name       TEXT NOT NULL CHECK (name <> '' AND position('/' in name) = 0),
	is_dir     BOOLEAN NOT NULL,
	content    TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS fs_nodes_sibling_key
	ON fs_nodes (user_id, parent_id, name) WHERE parent_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS fs_nodes_root_key
	ON fs_nodes (user_id, name) WHERE parent_id IS NULL;
CREATE INDEX IF NOT EXISTS fs_nodes_parent_idx
	ON fs_nodes (user_id, parent_id);
`

// Store persists per-user file trees in Postgres. Every operation
// transparently reconnects once if the connection was lost since the last
// call, then fails with a transport error.
type Store struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

// New opens the database, verifies connectivity, and applies the schema.
func New(dsn string) (*Store, error) {
	s := &Store{dsn: dsn}
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	s.db = db

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return s, nil
}

func (s *Store) open() (*sql.DB, error) {
	db, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errdefs.Transport(fmt.Errorf("failed to reach database: %w", err))
	}
	return db, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// handle returns the current pool.
func (s *Store) handle() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

// reconnect swaps in a fresh pool after a connection failure.
func (s *Store) reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		s.db.Close()
	}
	db, err := s.open()
	if err != nil {
		s.db = nil
		return err
	}
	s.db = db
	log.WithComponent("treestore").Warn().Msg("database connection reestablished")
	return nil
}

// withRetry runs fn, reopening the connection and retrying exactly once when
// the failure looks like a lost connection.
func (s *Store) withRetry(fn func(db *sql.DB) error) error {
	db := s.handle()
	if db == nil {
		if err := s.reconnect(); err != nil {
			return err
		}
		db = s.handle()
	}

	err := fn(db)
	if err == nil || !isConnErr(err) {
		return err
	}

	if rerr := s.reconnect(); rerr != nil {
		return errdefs.Transport(fmt.Errorf("database unavailable: %w", err))
	}
	if err = fn(s.handle()); err != nil && isConnErr(err) {
		return errdefs.Transport(fmt.Errorf("database unavailable: %w", err))
	}
	return err
}

// isConnErr reports whether err indicates a broken connection rather than a
// semantic failure.
func isConnErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exceptions; 57P01: admin shutdown.
		return strings.HasPrefix(string(pqErr.Code), "08") || pqErr.Code == "57P01"
	}
	return false
}

// isUniqueViolation reports whether err is a duplicate-key failure on one of
// the sibling indexes.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isForeignKeyViolation reports whether err is a parent_id FK failure, which
// happens when the parent is deleted between the existence check and the
// write.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
