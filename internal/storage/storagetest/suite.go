// Package storagetest is a conformance suite every ports.DocumentStore
// implementation runs from its own tests.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) ports.DocumentStore

// Run exercises the DocumentStore contract.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ports.DocumentStore)
	}{
		{"SubscribeOrdersAndLimits", testSubscribeOrdersAndLimits},
		{"SubscribeStreamsChanges", testSubscribeStreamsChanges},
		{"SubscribeClosesOnCancel", testSubscribeClosesOnCancel},
		{"DeleteIsIdempotent", testDeleteIsIdempotent},
		{"MergeUpserts", testMergeUpserts},
		{"PartitionsAreIsolated", testPartitionsAreIsolated},
		{"RejectsInvalidPaths", testRejectsInvalidPaths},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

const wait = 5 * time.Second

func next(t *testing.T, ch <-chan ports.Snapshot) ports.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed early")
		require.NoError(t, snap.Err)
		return snap
	case <-time.After(wait):
		t.Fatal("timed out waiting for snapshot")
	}
	return ports.Snapshot{}
}

// nextWith skips intermediate snapshots until one has n documents.
func nextWith(t *testing.T, ch <-chan ports.Snapshot, n int) ports.Snapshot {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case snap, ok := <-ch:
			require.True(t, ok, "subscription closed early")
			require.NoError(t, snap.Err)
			if len(snap.Documents) == n {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d documents", n)
		}
	}
}

func texts(docs []ports.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d.Data["sourceText"].(string)
	}
	return out
}

func testSubscribeOrdersAndLimits(t *testing.T, s ports.DocumentStore) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	col := "users/alice/translations"
	for _, rec := range []struct {
		text string
		ts   float64
	}{{"first", 100}, {"third", 300}, {"second", 200}} {
		_, err := s.Create(ctx, col, map[string]any{"sourceText": rec.text, "timestamp": rec.ts})
		require.NoError(t, err)
	}

	ch, err := s.Subscribe(ctx, ports.Query{Collection: col, OrderBy: "timestamp", Descending: true})
	require.NoError(t, err)
	snap := nextWith(t, ch, 3)
	assert.Equal(t, []string{"third", "second", "first"}, texts(snap.Documents))
	for _, d := range snap.Documents {
		assert.NotEmpty(t, d.ID)
	}

	limited, err := s.Subscribe(ctx, ports.Query{Collection: col, OrderBy: "timestamp", Descending: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second"}, texts(next(t, limited).Documents))

	asc, err := s.Subscribe(ctx, ports.Query{Collection: col, OrderBy: "timestamp"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, texts(nextWith(t, asc, 3).Documents))
}

func testSubscribeStreamsChanges(t *testing.T, s ports.DocumentStore) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	col := "users/alice/voiceMemos"
	ch, err := s.Subscribe(ctx, ports.Query{Collection: col, OrderBy: "createdAt", Descending: true})
	require.NoError(t, err)
	assert.Empty(t, next(t, ch).Documents)

	id, err := s.Create(ctx, col, map[string]any{"sourceText": "memo", "createdAt": float64(1)})
	require.NoError(t, err)

	snap := nextWith(t, ch, 1)
	assert.Equal(t, id, snap.Documents[0].ID)
	assert.Equal(t, "memo", snap.Documents[0].Data["sourceText"])

	require.NoError(t, s.Delete(ctx, col, id))
	nextWith(t, ch, 0)
}

func testSubscribeClosesOnCancel(t *testing.T, s ports.DocumentStore) {
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.Subscribe(ctx, ports.Query{Collection: "feedback"})
	require.NoError(t, err)
	next(t, ch)
	cancel()

	deadline := time.After(wait)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after cancel")
		}
	}
}

func testDeleteIsIdempotent(t *testing.T, s ports.DocumentStore) {
	ctx := context.Background()
	col := "users/alice/translations"

	id, err := s.Create(ctx, col, map[string]any{"sourceText": "x"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, col, id))
	assert.NoError(t, s.Delete(ctx, col, id))
	assert.NoError(t, s.Delete(ctx, col, "never-existed"))
}

func testMergeUpserts(t *testing.T, s ports.DocumentStore) {
	ctx := context.Background()

	_, err := s.Get(ctx, "users/alice")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "want ErrNotFound, got %v", err)

	require.NoError(t, s.Merge(ctx, "users/alice", map[string]any{
		"displayName": "Alice",
		"settings":    map[string]any{"voice": "Kore"},
	}))
	require.NoError(t, s.Merge(ctx, "users/alice", map[string]any{
		"subscribed": true,
		"settings":   map[string]any{"theme": "dark"},
	}))

	got, err := s.Get(ctx, "users/alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["displayName"])
	assert.Equal(t, true, got["subscribed"])
	assert.Equal(t, map[string]any{"voice": "Kore", "theme": "dark"}, got["settings"])

	// results are copies
	got["displayName"] = "Mallory"
	again, err := s.Get(ctx, "users/alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again["displayName"])
}

func testPartitionsAreIsolated(t *testing.T, s ports.DocumentStore) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Create(ctx, "users/alice/translations", map[string]any{"sourceText": "alice's"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "users/bob/translations", map[string]any{"sourceText": "bob's"})
	require.NoError(t, err)

	ch, err := s.Subscribe(ctx, ports.Query{Collection: "users/bob/translations"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob's"}, texts(nextWith(t, ch, 1).Documents))
}

func testRejectsInvalidPaths(t *testing.T, s ports.DocumentStore) {
	ctx := context.Background()

	_, err := s.Create(ctx, "users/alice", map[string]any{"x": "y"})
	assert.Error(t, err)
	_, err = s.Create(ctx, "users//translations", map[string]any{"x": "y"})
	assert.Error(t, err)
	_, err = s.Get(ctx, "users")
	assert.Error(t, err)
	assert.Error(t, s.Merge(ctx, "users/alice/translations", map[string]any{"x": "y"}))
	_, err = s.Subscribe(ctx, ports.Query{Collection: "users/alice/translations", OrderBy: "a'; DROP TABLE"})
	assert.Error(t, err)
}
