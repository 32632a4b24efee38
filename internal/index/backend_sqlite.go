package index

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
    name     TEXT PRIMARY KEY,
    version  TEXT NOT NULL,
    body     BLOB NOT NULL,
    saved_at TEXT NOT NULL
);`

// SQLiteBackend keeps the index documents as rows of a single
// SQLite table.
type SQLiteBackend struct {
	db *sql.DB
	mu sync.Mutex // serializes writes
}

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_synchronous", "NORMAL")
	return path + "?" + params.Encode()
}

// OpenSQLite creates or opens the database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}
	db, err := sql.Open("sqlite3", makeDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening index db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(documentsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Read(name string) (Document, error) {
	d := Document{Name: name}
	var savedAt string
	err := b.db.QueryRow(
		"SELECT version, body, saved_at FROM documents WHERE name = ?",
		name,
	).Scan(&d.Version, &d.Body, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", name, err)
	}
	d.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
	return d, nil
}

// Write upserts every document in one transaction.
func (b *SQLiteBackend) Write(docs ...Document) error {
	return b.update(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO documents (name, version, body, saved_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				version = excluded.version,
				body = excluded.body,
				saved_at = excluded.saved_at`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()
		for _, d := range docs {
			if _, err := stmt.Exec(
				d.Name, d.Version, d.Body,
				d.SavedAt.UTC().Format(time.RFC3339Nano),
			); err != nil {
				return fmt.Errorf("writing %s: %w", d.Name, err)
			}
		}
		return nil
	})
}

func (b *SQLiteBackend) Remove(names ...string) error {
	return b.update(func(tx *sql.Tx) error {
		for _, name := range names {
			if _, err := tx.Exec(
				"DELETE FROM documents WHERE name = ?", name,
			); err != nil {
				return fmt.Errorf("removing %s: %w", name, err)
			}
		}
		return nil
	})
}

// update executes fn within the write lock and a transaction. The
// transaction is committed if fn returns nil, rolled back otherwise.
func (b *SQLiteBackend) update(fn func(tx *sql.Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
