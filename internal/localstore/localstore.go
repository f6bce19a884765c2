// Package localstore is the device-local embedded store: key-addressed JSON
// documents grouped into named collections, backed by a single SQLite file.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the embedded SQLite database.
type DB struct {
	client *sql.DB
}

// Open creates (or opens) the local database file and ensures the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// SQLite handles one writer at a time; keep a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			PRIMARY KEY (collection, key)
		)
	`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{client: db}, db.PingContext(context.Background())
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

// Collection returns a handle scoped to one named collection.
func (d *DB) Collection(name string) *Collection {
	return &Collection{db: d.client, name: name}
}

// Collection is a key-addressed document set.
type Collection struct {
	db   *sql.DB
	name string
}

// Get unmarshals the document at key into out; the bool is false when absent.
func (c *Collection) Get(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM documents WHERE collection = ? AND key = ?`, c.name, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(raw), out)
}

// Put writes the document at key, replacing any previous value.
func (c *Collection) Put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO documents (collection, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT (collection, key) DO UPDATE SET value = excluded.value
	`, c.name, key, string(raw))
	return err
}

// Delete removes the document at key; deleting an absent key is not an error.
func (c *Collection) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND key = ?`, c.name, key)
	return err
}

// Clear removes every document in the collection.
func (c *Collection) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, c.name)
	return err
}

// All visits every document in the collection in key order.
func (c *Collection) All(ctx context.Context, visit func(key string, raw json.RawMessage) error) error {
	rows, err := c.db.QueryContext(ctx,
		`SELECT key, value FROM documents WHERE collection = ? ORDER BY key`, c.name)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return err
		}
		if err := visit(key, json.RawMessage(raw)); err != nil {
			return fmt.Errorf("visit %s/%s: %w", c.name, key, err)
		}
	}
	return rows.Err()
}
