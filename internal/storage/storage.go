// Package storage persists documents, sections, citation spans, and
// extraction states.
// The Store interface is what the controller programs against; the SQLite
// implementation is the production backend and the in-memory one backs
// tests. Field outcomes are written one row per field so a crash mid-run
// loses at most a single field's work.
package storage

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/extractd/internal/document"
	"github.com/fyrsmithlabs/extractd/internal/record"
)

// ErrNotFound is returned when a requested document or state does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store is the persistence collaborator.
//
// SaveField is an idempotent upsert keyed by (document id, version, field
// id). A concurrent write race on the same field is resolved by attempt
// count: the write with fewer attempts is the stale duplicate and is
// discarded silently.
//
// SaveState persists the full aggregate and replaces all per-field rows
// with the aggregate's fields, so a state saved under a new cache key
// sheds outcomes from the previous key. LoadState returns the last saved
// aggregate merged with any per-field writes that landed after it.
type Store interface {
	PutDocument(ctx context.Context, doc document.Document) error
	GetDocument(ctx context.Context, id string, version int) (document.Document, error)
	// LatestVersion returns 0 and no error when the document id is unseen.
	LatestVersion(ctx context.Context, id string) (int, error)

	PutSections(ctx context.Context, sections []document.Section) error
	GetSections(ctx context.Context, documentID string, version int) ([]document.Section, error)

	// PutSpans replaces the stored citation spans for the document version.
	PutSpans(ctx context.Context, documentID string, version int, spans []document.Span) error
	GetSpans(ctx context.Context, documentID string, version int) ([]document.Span, error)

	LoadState(ctx context.Context, documentID string, version int) (*record.ExtractionState, error)
	SaveField(ctx context.Context, documentID string, version int, outcome record.FieldOutcome) error
	SaveState(ctx context.Context, state *record.ExtractionState) error

	Close() error
}
