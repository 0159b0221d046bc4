package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// documentName keys the single ledger document within the store, leaving
// room for other documents to share the database file.
const documentName = "sync_status"

// SQLiteStore persists the ledger document in a SQLite database. It
// implements the same Store contract as FileStore for deployments that
// already keep state in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path, verifies
// the connection, and ensures the schema exists. The caller should call
// Close when the store is no longer needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_documents (
			name       TEXT PRIMARY KEY,
			document   BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReadAll returns the stored ledger document, or (nil, nil) if none has
// been written yet.
func (s *SQLiteStore) ReadAll(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM ledger_documents WHERE name = ?`, documentName,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger document: %w", err)
	}
	return data, nil
}

// WriteAll upserts the ledger document.
func (s *SQLiteStore) WriteAll(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_documents (name, document, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		documentName, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert ledger document: %w", err)
	}
	return nil
}
