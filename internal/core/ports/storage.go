package ports

import "context"

// Document is one stored record with its store-assigned id.
type Document struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// Query selects documents of one collection.
type Query struct {
	// Collection is a slash separated path such as users/{uid}/translations.
	Collection string
	// OrderBy names the field to sort by.
	OrderBy    string
	Descending bool
	// Limit caps the result size; zero means unlimited.
	Limit int
}

// Snapshot is the full result of a query at one point in time. A snapshot
// with Err set is the last one sent on a subscription.
type Snapshot struct {
	Documents []Document
	Err       error
}

// DocumentStore is the managed document database. Paths are always rooted
// at the authenticated user (users/{uid}/...) for personal collections.
type DocumentStore interface {
	// Create adds a document to collection and returns its new id.
	Create(ctx context.Context, collection string, data map[string]any) (string, error)

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Subscribe streams snapshots of q: the current result first, then a new
	// snapshot after every change to the collection. The channel is closed
	// when ctx is done.
	Subscribe(ctx context.Context, q Query) (<-chan Snapshot, error)

	// Merge upserts fields into the document at docPath, keeping fields not
	// mentioned in data.
	Merge(ctx context.Context, docPath string, data map[string]any) error

	// Get reads the document at docPath. It returns domain.ErrNotFound when
	// the document does not exist.
	Get(ctx context.Context, docPath string) (map[string]any, error)

	Close() error
}
