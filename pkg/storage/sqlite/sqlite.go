// Package sqlite is a storage.Store kept in a SQLite file. Document bodies are
// stored as CBOR.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/litesync/litesync.go/internal/codec"
	"github.com/litesync/litesync.go/pkg/constants"
	"github.com/litesync/litesync.go/pkg/models"
	"github.com/litesync/litesync.go/pkg/storage"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db    *sql.DB
	codec *codec.CBOR
}

var _ storage.Store = (*Store)(nil)

// Open creates or opens the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps ":memory:" alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, codec: codec.NewCBOR()}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) Load(ctx context.Context, collection, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT rev, parent, history, generation, deleted, body FROM documents WHERE collection = ? AND id = ?`,
		collection, id)

	doc := &models.Document{Collection: collection, ID: id}
	var (
		deleted int
		history []byte
		body    []byte
	)
	err := row.Scan(&doc.RevID, &doc.ParentRevID, &history, &doc.Generation, &deleted, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", collection, id, err)
	}
	doc.Deleted = deleted != 0
	if len(history) > 0 {
		if err := s.codec.Unmarshal(history, &doc.History); err != nil {
			return nil, fmt.Errorf("decoding history of %s/%s: %w", collection, id, err)
		}
	}
	if len(body) > 0 {
		if err := s.codec.Unmarshal(body, &doc.Body); err != nil {
			return nil, fmt.Errorf("decoding %s/%s: %w", collection, id, err)
		}
	}
	return doc, nil
}

func (s *Store) Store(ctx context.Context, doc *models.Document) error {
	var body []byte
	if doc.Body != nil {
		var err error
		if body, err = s.codec.Marshal(doc.Body); err != nil {
			return fmt.Errorf("encoding %s: %w", doc, err)
		}
	}
	var history []byte
	if len(doc.History) > 0 {
		var err error
		if history, err = s.codec.Marshal(doc.History); err != nil {
			return fmt.Errorf("encoding history of %s: %w", doc, err)
		}
	}
	deleted := 0
	if doc.Deleted {
		deleted = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, rev, parent, history, generation, deleted, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET
		   rev = excluded.rev, parent = excluded.parent, history = excluded.history,
		   generation = excluded.generation, deleted = excluded.deleted, body = excluded.body`,
		doc.Collection, doc.ID, doc.RevID, doc.ParentRevID, history, doc.Generation, deleted, body)
	if err != nil {
		return fmt.Errorf("writing %s: %w", doc, err)
	}
	return nil
}

func (s *Store) IDs(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
