// Package sqlite stores documents as JSON rows in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
	"github.com/tjfontaine/polyglot-lingua/internal/storage"
)

// Store is a SQLite implementation of ports.DocumentStore. Subscriptions
// are driven by writes made through this Store, so a database file must not
// be shared between processes that expect to see each other's changes.
type Store struct {
	db  *sqlx.DB
	hub *storage.Hub
}

var _ ports.DocumentStore = (*Store)(nil)

type row struct {
	ID   string `db:"id"`
	Data string `db:"data"`
}

// New opens (and if needed creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; subscriptions queue behind writes instead of failing with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db, hub: storage.NewHub()}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, seq)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	if err := storage.ValidateCollection(collection); err != nil {
		return "", err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	id := uuid.NewString()
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, string(body), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	s.hub.Notify(collection)
	return id, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := storage.ValidateCollection(collection); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.hub.Notify(collection)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, q ports.Query) (<-chan ports.Snapshot, error) {
	if err := storage.ValidateQuery(q); err != nil {
		return nil, err
	}
	return storage.Stream(ctx, s.hub, q, s.query), nil
}

func (s *Store) query(ctx context.Context, q ports.Query) ([]ports.Document, error) {
	stmt := `SELECT id, data FROM documents WHERE collection = ?`
	args := []any{q.Collection}

	if q.OrderBy != "" {
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		// the field name is passed as a bound JSON path; only the direction is spliced
		stmt += fmt.Sprintf(` ORDER BY json_extract(data, ?) %s, seq ASC`, dir)
		args = append(args, "$."+q.OrderBy)
	} else {
		stmt += ` ORDER BY seq ASC`
	}

	limit := -1
	if q.Limit > 0 {
		limit = q.Limit
	}
	stmt += ` LIMIT ?`
	args = append(args, limit)

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}

	docs := make([]ports.Document, 0, len(rows))
	for _, r := range rows {
		data, err := decode(r.Data)
		if err != nil {
			return nil, fmt.Errorf("document %s/%s: %w", q.Collection, r.ID, err)
		}
		docs = append(docs, ports.Document{ID: r.ID, Data: data})
	}
	return docs, nil
}

// Merge upserts with json_patch, which merges nested objects member by
// member and replaces everything else.
func (s *Store) Merge(ctx context.Context, docPath string, data map[string]any) error {
	collection, id, err := storage.SplitDocPath(docPath)
	if err != nil {
		return err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, json(?), ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			data = json_patch(documents.data, excluded.data),
			updated_at = excluded.updated_at`,
		collection, id, string(body), now, now)
	if err != nil {
		return fmt.Errorf("failed to merge document: %w", err)
	}

	s.hub.Notify(collection)
	return nil
}

func (s *Store) Get(ctx context.Context, docPath string) (map[string]any, error) {
	collection, id, err := storage.SplitDocPath(docPath)
	if err != nil {
		return nil, err
	}

	var r row
	err = s.db.GetContext(ctx, &r, `SELECT id, data FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", docPath, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return decode(r.Data)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func decode(data string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
