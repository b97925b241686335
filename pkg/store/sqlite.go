// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const (
	collectionUsers = "users"
	collectionRooms = "rooms"
)

// SQLiteStore keeps documents as JSON text in a single SQLite table, one
// row per (collection, id). Dotted-key queries are answered with json_extract.
type SQLiteStore struct {
	db    *sql.DB
	log   zerolog.Logger
	users *sqliteCollection
	rooms *sqliteCollection
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path. Parent directories
// are created if needed.
func NewSQLiteStore(path string, log zerolog.Logger) (*SQLiteStore, error) {
	log = log.With().Str("component", "store").Logger()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises writers, which the version check relies on.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	s.users = &sqliteCollection{store: s, name: collectionUsers}
	s.rooms = &sqliteCollection{store: s, name: collectionRooms}

	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Info().Str("path", path).Msg("SQLite store initialized")
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (collection, id)
		);
	`)
	return err
}

func (s *SQLiteStore) Users() Collection { return s.users }
func (s *SQLiteStore) Rooms() Collection { return s.rooms }

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteCollection struct {
	store *SQLiteStore
	name  string
}

func (c *sqliteCollection) Get(ctx context.Context, id string) (*Document, error) {
	var (
		data    string
		version int64
	)
	err := c.store.db.QueryRowContext(ctx,
		`SELECT data, version FROM documents WHERE collection = ? AND id = ?`,
		c.name, id,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", c.name, id, err)
	}

	doc := &Document{ID: id, Version: version}
	if err := json.Unmarshal([]byte(data), &doc.Data); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", c.name, id, err)
	}
	if doc.Data == nil {
		doc.Data = make(map[string]json.RawMessage)
	}
	return doc, nil
}

func (c *sqliteCollection) Put(ctx context.Context, doc *Document) error {
	data := doc.Data
	if data == nil {
		data = map[string]json.RawMessage{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", c.name, doc.ID, err)
	}
	now := time.Now().UTC()

	var res sql.Result
	if doc.Version == 0 {
		res, err = c.store.db.ExecContext(ctx, `
			INSERT INTO documents (collection, id, data, version, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT (collection, id) DO NOTHING
		`, c.name, doc.ID, string(encoded), now)
	} else {
		res, err = c.store.db.ExecContext(ctx, `
			UPDATE documents SET data = ?, version = version + 1, updated_at = ?
			WHERE collection = ? AND id = ? AND version = ?
		`, string(encoded), now, c.name, doc.ID, doc.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to put %s %s: %w", c.name, doc.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to put %s %s: %w", c.name, doc.ID, err)
	}
	if rows != 1 {
		return fmt.Errorf("%w: %s %s at version %d", ErrConflict, c.name, doc.ID, doc.Version)
	}
	doc.Version++
	c.store.log.Trace().
		Str("collection", c.name).
		Str("id", doc.ID).
		Int64("version", doc.Version).
		Msg("Stored document")
	return nil
}

func (c *sqliteCollection) Query(ctx context.Context, filter map[string]any) ([]string, error) {
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var (
		query strings.Builder
		args  = []any{c.name}
	)
	query.WriteString(`SELECT id FROM documents WHERE collection = ?`)
	for _, key := range keys {
		path := jsonPath(key)
		switch value := filter[key].(type) {
		case nil:
			query.WriteString(` AND json_type(data, ?) = 'null'`)
			args = append(args, path)
		case bool:
			// json_extract cannot tell a JSON true from the number 1.
			query.WriteString(` AND json_type(data, ?) = ?`)
			if value {
				args = append(args, path, "true")
			} else {
				args = append(args, path, "false")
			}
		case string, int, int32, int64, uint, uint32, uint64, float32, float64:
			query.WriteString(` AND json_extract(data, ?) = ?`)
			args = append(args, path, value)
		default:
			raw, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("failed to encode filter value for %q: %w", key, err)
			}
			query.WriteString(` AND json_extract(data, ?) = json(?)`)
			args = append(args, path, string(raw))
		}
	}
	query.WriteString(` ORDER BY id`)

	rows, err := c.store.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.name, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", c.name, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// jsonPath turns "ns.field" into the SQLite JSON path `$."ns"."field"`.
func jsonPath(key string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, part := range strings.Split(key, ".") {
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(part, `"`, `\"`))
		b.WriteString(`"`)
	}
	return b.String()
}
