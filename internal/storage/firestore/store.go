// Package firestore implements ports.DocumentStore on Cloud Firestore,
// using Firestore's own snapshot listeners for subscriptions.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
	"github.com/tjfontaine/polyglot-lingua/internal/storage"
)

// Config selects the Firestore project. When FIRESTORE_EMULATOR_HOST is
// set the client library connects to the emulator instead.
type Config struct {
	ProjectID       string
	CredentialsFile string
	// Root, when set, is a document path every collection is nested under,
	// for example "envs/staging".
	Root string
}

// Store wraps a Firestore client.
type Store struct {
	client *firestore.Client
	root   string
}

var _ ports.DocumentStore = (*Store)(nil)

// New connects to Firestore.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore project_id is required")
	}
	if cfg.Root != "" {
		if _, _, err := storage.SplitDocPath(cfg.Root); err != nil {
			return nil, fmt.Errorf("firestore root: %w", err)
		}
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &Store{client: client, root: strings.Trim(cfg.Root, "/")}, nil
}

func (s *Store) path(p string) string {
	if s.root == "" {
		return p
	}
	return s.root + "/" + p
}

func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	if err := storage.ValidateCollection(collection); err != nil {
		return "", err
	}
	ref, _, err := s.client.Collection(s.path(collection)).Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("failed to add document: %w", err)
	}
	return ref.ID, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := storage.ValidateCollection(collection); err != nil {
		return err
	}
	// Firestore deletes of missing documents succeed without a precondition.
	if _, err := s.client.Collection(s.path(collection)).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// Subscribe uses a snapshot listener. Firestore leaves out documents that
// lack the OrderBy field.
func (s *Store) Subscribe(ctx context.Context, q ports.Query) (<-chan ports.Snapshot, error) {
	if err := storage.ValidateQuery(q); err != nil {
		return nil, err
	}

	query := s.client.Collection(s.path(q.Collection)).Query
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Descending {
			dir = firestore.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	out := make(chan ports.Snapshot, 1)
	go func() {
		defer close(out)
		it := query.Snapshots(ctx)
		defer it.Stop()

		for {
			snap, err := it.Next()
			var docs []ports.Document
			if err == nil {
				docs, err = collect(snap)
			}
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- ports.Snapshot{Documents: docs, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out, nil
}

func collect(snap *firestore.QuerySnapshot) ([]ports.Document, error) {
	all, err := snap.Documents.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	docs := make([]ports.Document, 0, len(all))
	for _, d := range all {
		docs = append(docs, ports.Document{ID: d.Ref.ID, Data: d.Data()})
	}
	return docs, nil
}

func (s *Store) Merge(ctx context.Context, docPath string, data map[string]any) error {
	if _, _, err := storage.SplitDocPath(docPath); err != nil {
		return err
	}
	if _, err := s.client.Doc(s.path(docPath)).Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to merge document: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, docPath string) (map[string]any, error) {
	if _, _, err := storage.SplitDocPath(docPath); err != nil {
		return nil, err
	}
	snap, err := s.client.Doc(s.path(docPath)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%s: %w", docPath, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return snap.Data(), nil
}

func (s *Store) Close() error {
	if err := s.client.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
