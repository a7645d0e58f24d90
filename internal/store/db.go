// Package store persists history, preferences, bookmarks and per-folder
// metadata in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/justyntemme/waypoint/internal/debug"
)

// ErrClosed is returned when the database has not been opened.
var ErrClosed = errors.New("store: database not open")

const schema = `
CREATE TABLE IF NOT EXISTS bookmarks (
	location TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS history (
	position INTEGER PRIMARY KEY,
	location TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS metadata (
	location TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (location, key)
);
`

// Bookmark is a user-added entry point.
type Bookmark struct {
	Location string
	Name     string
}

type DB struct {
	conn *sql.DB
}

func NewDB() *DB {
	return &DB{}
}

// Open initializes the database connection and schema.
func (d *DB) Open(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// WAL mode allows simultaneous readers and writers
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return err
	}
	// Synchronous NORMAL is safe against app crashes, faster than FULL
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	debug.Log(debug.STORE, "opened %s", dbPath)
	d.conn = db
	return nil
}

func (d *DB) Close() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *DB) db() (*sql.DB, error) {
	if d.conn == nil {
		return nil, ErrClosed
	}
	return d.conn, nil
}

// Bookmarks returns bookmarks in the order they were added.
func (d *DB) Bookmarks(ctx context.Context) ([]Bookmark, error) {
	db, err := d.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT location, name FROM bookmarks ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bookmark
	for rows.Next() {
		var b Bookmark
		if err := rows.Scan(&b.Location, &b.Name); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AddBookmark inserts or renames a bookmark.
func (d *DB) AddBookmark(ctx context.Context, location, name string) error {
	db, err := d.db()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO bookmarks (location, name) VALUES (?, ?) ON CONFLICT(location) DO UPDATE SET name = excluded.name",
		location, name)
	return err
}

func (d *DB) RemoveBookmark(ctx context.Context, location string) error {
	db, err := d.db()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "DELETE FROM bookmarks WHERE location = ?", location)
	return err
}

// Settings returns every stored setting.
func (d *DB) Settings(ctx context.Context) (map[string]string, error) {
	db, err := d.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// Setting returns one setting and whether it exists.
func (d *DB) Setting(ctx context.Context, key string) (string, bool, error) {
	db, err := d.db()
	if err != nil {
		return "", false, err
	}
	var value string
	err = db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SaveSetting upserts a setting.
func (d *DB) SaveSetting(ctx context.Context, key, value string) error {
	db, err := d.db()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	return err
}

// LoadHistory returns the saved history, oldest first.
func (d *DB) LoadHistory(ctx context.Context) ([]string, error) {
	db, err := d.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT location FROM history ORDER BY position ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// SaveHistory replaces the saved history.
func (d *DB) SaveHistory(ctx context.Context, locations []string) error {
	return d.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM history"); err != nil {
			return err
		}
		for i, loc := range locations {
			if _, err := tx.ExecContext(ctx, "INSERT INTO history (position, location) VALUES (?, ?)", i, loc); err != nil {
				return err
			}
		}
		debug.Log(debug.STORE, "saved %d history entries", len(locations))
		return nil
	})
}

// ClearHistory deletes the saved history.
func (d *DB) ClearHistory(ctx context.Context) error {
	return d.SaveHistory(ctx, nil)
}

// Metadata returns the attributes stored for location.
func (d *DB) Metadata(ctx context.Context, location string) (map[string]string, error) {
	db, err := d.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT key, value FROM metadata WHERE location = ?", location)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		attrs[key] = value
	}
	return attrs, rows.Err()
}

// SaveMetadata upserts attributes for location. Empty values delete the
// key.
func (d *DB) SaveMetadata(ctx context.Context, location string, attrs map[string]string) error {
	return d.tx(ctx, func(tx *sql.Tx) error {
		for key, value := range attrs {
			var err error
			if value == "" {
				_, err = tx.ExecContext(ctx, "DELETE FROM metadata WHERE location = ? AND key = ?", location, key)
			} else {
				_, err = tx.ExecContext(ctx, "INSERT OR REPLACE INTO metadata (location, key, value) VALUES (?, ?, ?)", location, key, value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// MoveMetadata re-keys the metadata of from, and of everything below it,
// to to.
func (d *DB) MoveMetadata(ctx context.Context, from, to string) error {
	return d.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE OR REPLACE metadata SET location = ? WHERE location = ?", to, from); err != nil {
			return err
		}
		prefix := strings.TrimSuffix(from, "/") + "/"
		_, err := tx.ExecContext(ctx,
			"UPDATE OR REPLACE metadata SET location = ? || substr(location, ?) WHERE substr(location, 1, ?) = ?",
			strings.TrimSuffix(to, "/")+"/", len(prefix)+1, len(prefix), prefix)
		return err
	})
}

// DeleteMetadata removes the metadata of location and everything below it.
func (d *DB) DeleteMetadata(ctx context.Context, location string) error {
	db, err := d.db()
	if err != nil {
		return err
	}
	prefix := strings.TrimSuffix(location, "/") + "/"
	_, err = db.ExecContext(ctx,
		"DELETE FROM metadata WHERE location = ? OR substr(location, 1, ?) = ?",
		location, len(prefix), prefix)
	return err
}

func (d *DB) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := d.db()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
