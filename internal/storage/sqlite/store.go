// Package sqlite implements the storage interface on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/storage"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx, so entity queries can run
// inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite implementation of storage.Storage.
type Store struct {
	db   *sql.DB
	path string
	queries
}

// queries holds the entity operations over a dbtx. Store and transactions
// share the same method set through it.
type queries struct {
	q dbtx
}

// transaction implements storage.Transaction over a *sql.Tx.
type transaction struct {
	queries
}

// New opens or creates the database at path and applies the schema.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize access through one connection. SQLite allows a single
	// writer; pooling more connections only produces SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, path: path, queries: queries{q: db}}, nil
}

// RunInTransaction executes fn within a BEGIN IMMEDIATE transaction. A nil
// return from fn commits; an error or panic rolls back.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// BEGIN IMMEDIATE acquires the write lock up front, preventing
	// deadlocks between transactions that upgrade from read to write.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Roll back with a fresh context: ctx may already be
			// cancelled, and the connection must never go back to the
			// pool mid-transaction.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(&transaction{queries{q: conn}}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// UnderlyingDB returns the underlying *sql.DB connection pool.
func (s *Store) UnderlyingDB() *sql.DB {
	return s.db
}

var _ storage.Storage = (*Store)(nil)
var _ storage.Transaction = (*transaction)(nil)
