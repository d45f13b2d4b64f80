package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"gridlink/store"
)

// DB is a key/value driver over a single sqlite table.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir %q: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.ensureTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) ensureTables(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS kv (
		key        TEXT    NOT NULL PRIMARY KEY,
		value      TEXT    NOT NULL,
		updated_ts BIGINT  NOT NULL DEFAULT (strftime('%s', 'now'))
	)`
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: create kv table: %w", err)
	}
	return nil
}

func (d *DB) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (d *DB) Set(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_ts) VALUES (?, ?, strftime('%s', 'now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_ts = excluded.updated_ts`,
		key, value)
	return err
}

func (d *DB) Delete(ctx context.Context, key string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (d *DB) Close() error {
	return d.db.Close()
}
