// Package database is the sqlite-backed result store and credential
// mirror. A single file holds both the processed emails and the
// mirrored credentials.
package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// busyTimeoutMs bounds how long writers wait on a locked database
const busyTimeoutMs = 5000

// DB is the sqlite handle shared by the email and credential repos
type DB struct {
	*sqlx.DB
}

// New opens the sqlite store at path, creating the file and its parent
// directory as needed. WAL journaling keeps reads from blocking the
// processing writes.
func New(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare storage directory: %w", err)
	}

	opts := url.Values{}
	opts.Set("_journal_mode", "WAL")
	opts.Set("_foreign_keys", "on")
	opts.Set("_busy_timeout", strconv.Itoa(busyTimeoutMs))

	db, err := sqlx.Connect("sqlite3", path+"?"+opts.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &DB{db}, nil
}

// Migrate applies the schema. All statements are idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
