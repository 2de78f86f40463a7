/*
store.go - Persistence interface for incentive documents

PURPOSE:
  Defines the interface between the domain logic and the database. Records
  are stored as JSON documents keyed by (collection, id), the same shape a
  document database gives you. The Repository turns documents into typed
  records; backends only move bytes.

KEY INTERFACE:
  DocumentStore: get, set, create, update, delete, query-by-field, list

UPDATE CONTRACT:
  Update() is a read-modify-write of ONE document. The backend guarantees
  that fn sees the current document and that its result is written only if
  nobody changed the document in between. Task completion toggles rely on
  this; nothing in the engine needs multi-document atomicity.

QUERY CONTRACT:
  QueryByField() matches a top-level JSON field against a string or bool.
  Nested paths are not supported.

IMPLEMENTATIONS:
  - incentive/store/memory.go: In-memory for testing/dev
  - store/sqlite/sqlite.go: Embedded SQLite (default)
  - store/postgres/postgres.go: PostgreSQL jsonb
  - store/mongodb/mongodb.go: MongoDB, compare-and-swap on a revision

EXAMPLE:
  doc, err := store.Get(ctx, incentive.CollectionTasks, "task-1")
  if errors.Is(err, incentive.ErrDocumentNotFound) {
      // 404
  }

SEE ALSO:
  - repository.go: Typed access on top of DocumentStore
  - document.go: JSON shapes of the stored records
*/
package incentive

import "context"

// =============================================================================
// COLLECTIONS
// =============================================================================

type Collection string

const (
	CollectionObjectives  Collection = "objectives"
	CollectionIncentives  Collection = "incentives"
	CollectionTasks       Collection = "tasks"
	CollectionSettlements Collection = "settlements"
)

// Collections lists every collection the engine writes to.
var Collections = []Collection{
	CollectionObjectives,
	CollectionIncentives,
	CollectionTasks,
	CollectionSettlements,
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

// UpdateFunc receives the current document and returns its replacement.
// Returning an error aborts the update and leaves the document untouched.
type UpdateFunc func(current []byte) ([]byte, error)

// DocumentStore persists JSON documents by collection and id.
type DocumentStore interface {
	// Get returns the document or ErrDocumentNotFound.
	Get(ctx context.Context, c Collection, id string) ([]byte, error)

	// Set writes the document, replacing any previous version.
	Set(ctx context.Context, c Collection, id string, doc []byte) error

	// Create writes the document only if the id is free. Returns
	// ErrDocumentExists otherwise.
	Create(ctx context.Context, c Collection, id string, doc []byte) error

	// Update applies fn to the current document atomically. Returns
	// ErrDocumentNotFound if the document does not exist.
	Update(ctx context.Context, c Collection, id string, fn UpdateFunc) error

	// Delete removes the document. Returns ErrDocumentNotFound if missing.
	Delete(ctx context.Context, c Collection, id string) error

	// QueryByField returns documents whose top-level field equals value.
	QueryByField(ctx context.Context, c Collection, field string, value any) ([][]byte, error)

	// List returns every document of the collection ordered by id.
	List(ctx context.Context, c Collection) ([][]byte, error)
}
