// Package store provides relational persistence for products, links, price
// observations, shop configs, substitute groups and users over SQLite.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sqlx.DB and *sqlx.Tx, so every entity query
// runs either autocommitted or inside an explicit transaction.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Queries holds all entity-level operations. It is embedded in both Store
// and Tx.
type Queries struct {
	q querier
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sqlx.DB
	Queries
}

// New opens the SQLite database at path and runs migrations.
func New(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// A second connection would see a fresh empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, Queries: Queries{q: db}}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx is a write transaction exposing the same entity operations as Store.
type Tx struct {
	tx *sqlx.Tx
	Queries
}

// Begin opens a write transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx, Queries: Queries{q: tx}}, nil
}

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
