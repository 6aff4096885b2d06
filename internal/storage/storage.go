// Package storage holds what the document store implementations share:
// path rules, ordering, and in-process change fan-out for subscriptions.
package storage

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateCollection checks that path names a collection: an odd number of
// non-empty segments such as "feedback" or "users/alice/translations".
func ValidateCollection(path string) error {
	segs := strings.Split(path, "/")
	if len(segs)%2 == 0 || slices.Contains(segs, "") {
		return fmt.Errorf("invalid collection path %q", path)
	}
	return nil
}

// SplitDocPath splits a document path into its collection and id.
func SplitDocPath(path string) (collection, id string, err error) {
	segs := strings.Split(path, "/")
	if len(segs)%2 != 0 || slices.Contains(segs, "") {
		return "", "", fmt.Errorf("invalid document path %q", path)
	}
	i := strings.LastIndexByte(path, '/')
	return path[:i], path[i+1:], nil
}

// ValidateQuery checks the collection path and the order field name.
func ValidateQuery(q ports.Query) error {
	if err := ValidateCollection(q.Collection); err != nil {
		return err
	}
	if q.OrderBy != "" && !fieldPattern.MatchString(q.OrderBy) {
		return fmt.Errorf("invalid order field %q", q.OrderBy)
	}
	if q.Limit < 0 {
		return fmt.Errorf("invalid limit %d", q.Limit)
	}
	return nil
}

// SortDocuments orders docs in place by field. Documents missing the field
// sort first in ascending order. Ties keep their incoming order.
func SortDocuments(docs []ports.Document, field string, descending bool) {
	if field == "" {
		return
	}
	slices.SortStableFunc(docs, func(a, b ports.Document) int {
		c := compareValues(a.Data[field], b.Data[field])
		if descending {
			return -c
		}
		return c
	})
}

// ApplyLimit truncates docs to limit; zero means no limit.
func ApplyLimit(docs []ports.Document, limit int) []ports.Document {
	if limit > 0 && len(docs) > limit {
		return docs[:limit]
	}
	return docs
}

func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return cmp.Compare(fa, fb)
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// CloneData deep-copies a document body so callers cannot alias stored
// maps and slices.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return CloneData(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(x)
	}
	return v
}

// MergeData merges patch into base recursively. Nested maps are merged,
// every other value replaces what was there.
func MergeData(base, patch map[string]any) map[string]any {
	out := CloneData(base)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if pm, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = MergeData(bm, pm)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Hub fans collection change signals out to watchers. Signals coalesce: a
// watcher that has not consumed the previous signal receives only one.
type Hub struct {
	mu       sync.Mutex
	watchers map[string]map[chan struct{}]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{watchers: make(map[string]map[chan struct{}]struct{})}
}

// Watch registers for changes to collection. The returned func
// unregisters.
func (h *Hub) Watch(collection string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	set, ok := h.watchers[collection]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.watchers[collection] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.watchers[collection], ch)
			if len(h.watchers[collection]) == 0 {
				delete(h.watchers, collection)
			}
		})
	}
}

// Notify signals every watcher of collection.
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.watchers[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// QueryFunc reads the current result of a query.
type QueryFunc func(ctx context.Context, q ports.Query) ([]ports.Document, error)

// Stream implements DocumentStore.Subscribe on top of a hub: it sends the
// current result, then re-runs the query after every change signal. The
// channel is closed when ctx ends or after a snapshot carrying an error.
func Stream(ctx context.Context, hub *Hub, q ports.Query, query QueryFunc) <-chan ports.Snapshot {
	changes, stop := hub.Watch(q.Collection)
	out := make(chan ports.Snapshot, 1)

	go func() {
		defer close(out)
		defer stop()

		for {
			docs, err := query(ctx, q)
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

			select {
			case <-changes:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
