package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
	"github.com/tjfontaine/polyglot-lingua/internal/storage"
)

type document struct {
	data map[string]any
	seq  uint64
}

// Store is an in-memory implementation of ports.DocumentStore.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]*document
	seq         uint64
	hub         *storage.Hub
	closed      bool
}

var _ ports.DocumentStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]*document),
		hub:         storage.NewHub(),
	}
}

func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	if err := storage.ValidateCollection(collection); err != nil {
		return "", err
	}

	id := uuid.NewString()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("store is closed")
	}
	s.put(collection, id, storage.CloneData(data))
	s.mu.Unlock()

	s.hub.Notify(collection)
	return id, nil
}

// put stores data under collection/id. s.mu must be held.
func (s *Store) put(collection, id string, data map[string]any) {
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]*document)
		s.collections[collection] = docs
	}
	if existing, ok := docs[id]; ok {
		existing.data = data
		return
	}
	s.seq++
	docs[id] = &document{data: data, seq: s.seq}
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := storage.ValidateCollection(collection); err != nil {
		return err
	}

	s.mu.Lock()
	_, existed := s.collections[collection][id]
	delete(s.collections[collection], id)
	s.mu.Unlock()

	if existed {
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
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		doc ports.Document
		seq uint64
	}
	entries := make([]entry, 0, len(s.collections[q.Collection]))
	for id, d := range s.collections[q.Collection] {
		entries = append(entries, entry{doc: ports.Document{ID: id, Data: storage.CloneData(d.data)}, seq: d.seq})
	}
	// map iteration is random; start from insertion order
	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.seq, b.seq) })

	docs := make([]ports.Document, len(entries))
	for i, e := range entries {
		docs[i] = e.doc
	}
	storage.SortDocuments(docs, q.OrderBy, q.Descending)
	return storage.ApplyLimit(docs, q.Limit), nil
}

func (s *Store) Merge(ctx context.Context, docPath string, data map[string]any) error {
	collection, id, err := storage.SplitDocPath(docPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var base map[string]any
	if d, ok := s.collections[collection][id]; ok {
		base = d.data
	}
	s.put(collection, id, storage.MergeData(base, data))
	s.mu.Unlock()

	s.hub.Notify(collection)
	return nil
}

func (s *Store) Get(ctx context.Context, docPath string) (map[string]any, error) {
	collection, id, err := storage.SplitDocPath(docPath)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", docPath, domain.ErrNotFound)
	}
	return storage.CloneData(d.data), nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
