// Package cache persists the shared publication cache document and
// coordinates refresh mutual exclusion on top of the store's optimistic
// concurrency primitive.
package cache

import (
	"context"

	"github.com/renalworks/publications-pipeline/internal/domain"
)

// StoredDocument pairs a cache document with the revision marker it was
// read at. The revision guards conditional writes.
type StoredDocument struct {
	Doc      *domain.CacheDocument
	Revision int64
}

// DocumentStore is the minimal remote document API the coordinator builds
// on: read by id, conditional write by revision, and three partial-update
// primitives that touch individual fields without a bulk replace.
//
// Every write, partial or full, advances the document's revision.
type DocumentStore interface {
	// Get returns the document and its current revision.
	// Returns domain.ErrNotFound when the document does not exist.
	Get(ctx context.Context, id string) (*StoredDocument, error)

	// Insert creates the document and returns its initial revision.
	// Returns domain.ErrAlreadyExists when the id is already taken.
	Insert(ctx context.Context, id string, doc *domain.CacheDocument) (int64, error)

	// UpdateWithRevision replaces the document only if its revision still
	// equals expected, returning the new revision. Returns
	// domain.ErrRevisionConflict when another writer got there first or
	// the document is gone.
	UpdateWithRevision(ctx context.Context, id string, doc *domain.CacheDocument, expected int64) (int64, error)

	// PatchPath sets the value at path inside the document, creating the
	// leaf if missing. Returns domain.ErrNotFound when the document does
	// not exist.
	PatchPath(ctx context.Context, id string, path []string, value any) error

	// IncrementField adds delta to the numeric field at path, treating a
	// missing field as zero.
	IncrementField(ctx context.Context, id string, path []string, delta int64) error

	// AppendToArray appends values to the array at path, creating the
	// array if missing.
	AppendToArray(ctx context.Context, id string, path []string, values ...any) error
}
