package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by point lookups when no row matches
var ErrNotFound = errors.New("record not found")

// Store is the circulation store. All reads and writes go through either
// the Store itself (auto-commit) or a Tx obtained from Begin.
type Store struct {
	queries
	db *sqlx.DB
}

// queries holds the query set shared by Store and Tx. The ext is either
// the connection pool or one open transaction.
type queries struct {
	ext sqlx.ExtContext
}

// NewStore opens the database and migrates the schema.
// Supported drivers: "postgres" and "sqlite3".
func NewStore(driver, databaseURL string) (*Store, error) {
	if driver != "postgres" && driver != "sqlite3" {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sqlx.Connect(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite3" {
		// one writer keeps in-memory databases coherent across the pool
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{queries: queries{ext: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is one transactional unit. Effects are invisible to other units
// until Commit; Rollback discards them. Safe to defer Rollback on every
// exit path, it is a no-op after Commit.
type Tx struct {
	queries
	tx *sqlx.Tx
}

// Begin starts a transactional unit
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{queries: queries{ext: tx}, tx: tx}, nil
}

// Commit commits the unit
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback discards the unit's effects
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id {{id}},
	email TEXT NOT NULL UNIQUE,
	full_name TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'MEMBER',
	created_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS books (
	id {{id}},
	isbn TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	author TEXT NOT NULL,
	total_copies INTEGER NOT NULL DEFAULT 1,
	available_copies INTEGER NOT NULL DEFAULT 1,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS loans (
	id {{id}},
	user_id BIGINT NOT NULL REFERENCES users(id),
	book_id BIGINT NOT NULL REFERENCES books(id),
	issued_at {{ts}} NOT NULL,
	due_at {{ts}} NOT NULL,
	returned_at {{ts}},
	status TEXT NOT NULL DEFAULT 'ISSUED' CHECK(status IN ('ISSUED', 'RETURNED', 'OVERDUE')),
	renew_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reservations (
	id {{id}},
	user_id BIGINT NOT NULL REFERENCES users(id),
	book_id BIGINT NOT NULL REFERENCES books(id),
	created_at {{ts}} NOT NULL,
	status TEXT NOT NULL DEFAULT 'ACTIVE' CHECK(status IN ('ACTIVE', 'FULFILLED', 'CANCELLED'))
);

CREATE TABLE IF NOT EXISTS notifications (
	id {{id}},
	user_id BIGINT NOT NULL REFERENCES users(id),
	type TEXT NOT NULL,
	channel TEXT NOT NULL DEFAULT 'email',
	payload TEXT NOT NULL DEFAULT '',
	scheduled_for {{ts}} NOT NULL,
	sent_at {{ts}},
	status TEXT NOT NULL DEFAULT 'PENDING' CHECK(status IN ('PENDING', 'SENT', 'FAILED'))
);

CREATE INDEX IF NOT EXISTS idx_loans_user_id ON loans(user_id);
CREATE INDEX IF NOT EXISTS idx_loans_book_id ON loans(book_id);
CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);
CREATE INDEX IF NOT EXISTS idx_reservations_book_id ON reservations(book_id);
CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status);
CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id);
CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status);
`

// migrate creates the schema, adjusting the id and timestamp column
// types to the driver's dialect.
func (s *Store) migrate() error {
	var r *strings.Replacer
	if s.db.DriverName() == "sqlite3" {
		r = strings.NewReplacer(
			"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{ts}}", "DATETIME",
		)
	} else {
		r = strings.NewReplacer(
			"{{id}}", "BIGSERIAL PRIMARY KEY",
			"{{ts}}", "TIMESTAMPTZ",
		)
	}

	_, err := s.db.Exec(r.Replace(schema))
	return err
}
