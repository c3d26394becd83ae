package notify

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// TokenStore keeps device registration tokens per store.
type TokenStore interface {
	Register(ctx context.Context, storeID, token string) error
	Tokens(ctx context.Context, storeID string) ([]string, error)
	Remove(ctx context.Context, tokens ...string) error
}

// SQLiteTokenStore is a TokenStore backed by a SQLite database in WAL mode.
type SQLiteTokenStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates or opens the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func OpenSQLite(path string) (*SQLiteTokenStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteTokenStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteTokenStore) Close() error {
	return s.db.Close()
}

// Register stores token for storeID. Registering a known token moves it to
// the new store.
func (s *SQLiteTokenStore) Register(ctx context.Context, storeID, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (token, store_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET store_id = excluded.store_id`,
		token, storeID, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to register token: %w", err)
	}
	return nil
}

// Tokens returns every token registered for storeID, oldest first.
func (s *SQLiteTokenStore) Tokens(ctx context.Context, storeID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT token FROM tokens WHERE store_id = ? ORDER BY created_at, token", storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tokens: %w", err)
	}
	return tokens, nil
}

// Remove deletes tokens. Unknown tokens are ignored.
func (s *SQLiteTokenStore) Remove(ctx context.Context, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM tokens WHERE token = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, t := range tokens {
		if _, err := stmt.ExecContext(ctx, t); err != nil {
			return fmt.Errorf("failed to remove token: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

var _ TokenStore = (*SQLiteTokenStore)(nil)
