package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/renalworks/publications-pipeline/internal/domain"
)

// MemoryDocumentStore implements DocumentStore in process memory. It backs
// runs without a configured database and the coordinator's concurrency
// tests. Semantics mirror the PostgreSQL store, including revision
// advancement on every write.
type MemoryDocumentStore struct {
	mu   sync.Mutex
	docs map[string]*memoryEntry
}

type memoryEntry struct {
	raw      []byte
	revision int64
}

var _ DocumentStore = (*MemoryDocumentStore)(nil)

// NewMemoryDocumentStore creates an empty in-memory document store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]*memoryEntry)}
}

// Get returns the document and its current revision.
func (s *MemoryDocumentStore) Get(_ context.Context, id string) (*StoredDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.docs[id]
	if !ok {
		return nil, domain.NewNotFoundError("cache document", id)
	}

	var doc domain.CacheDocument
	if err := json.Unmarshal(entry.raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode cache document: %w", err)
	}
	return &StoredDocument{Doc: &doc, Revision: entry.revision}, nil
}

// Insert creates the document and returns its initial revision.
func (s *MemoryDocumentStore) Insert(_ context.Context, id string, doc *domain.CacheDocument) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; ok {
		return 0, domain.NewAlreadyExistsError("cache document", id)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to encode cache document: %w", err)
	}
	s.docs[id] = &memoryEntry{raw: raw, revision: 1}
	return 1, nil
}

// UpdateWithRevision replaces the document guarded by the expected revision.
func (s *MemoryDocumentStore) UpdateWithRevision(_ context.Context, id string, doc *domain.CacheDocument, expected int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.docs[id]
	if !ok || entry.revision != expected {
		return 0, domain.ErrRevisionConflict
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to encode cache document: %w", err)
	}
	entry.raw = raw
	entry.revision++
	return entry.revision, nil
}

// PatchPath sets the value at path inside the document.
func (s *MemoryDocumentStore) PatchPath(_ context.Context, id string, path []string, value any) error {
	return s.mutate(id, func(root map[string]any) error {
		parent, key, err := descend(root, path)
		if err != nil {
			return err
		}
		encoded, err := roundTrip(value)
		if err != nil {
			return err
		}
		parent[key] = encoded
		return nil
	})
}

// IncrementField adds delta to the numeric field at path.
func (s *MemoryDocumentStore) IncrementField(_ context.Context, id string, path []string, delta int64) error {
	return s.mutate(id, func(root map[string]any) error {
		parent, key, err := descend(root, path)
		if err != nil {
			return err
		}
		current, _ := parent[key].(float64)
		parent[key] = current + float64(delta)
		return nil
	})
}

// AppendToArray appends values to the array at path.
func (s *MemoryDocumentStore) AppendToArray(_ context.Context, id string, path []string, values ...any) error {
	return s.mutate(id, func(root map[string]any) error {
		parent, key, err := descend(root, path)
		if err != nil {
			return err
		}
		arr, _ := parent[key].([]any)
		for _, v := range values {
			encoded, err := roundTrip(v)
			if err != nil {
				return err
			}
			arr = append(arr, encoded)
		}
		parent[key] = arr
		return nil
	})
}

// mutate applies fn to the decoded document under the store lock and
// advances the revision.
func (s *MemoryDocumentStore) mutate(id string, fn func(root map[string]any) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.docs[id]
	if !ok {
		return domain.NewNotFoundError("cache document", id)
	}

	var root map[string]any
	if err := json.Unmarshal(entry.raw, &root); err != nil {
		return fmt.Errorf("failed to decode cache document: %w", err)
	}

	if err := fn(root); err != nil {
		return err
	}

	raw, err := json.Marshal(root)
	if err != nil {
		return fmt.Errorf("failed to encode cache document: %w", err)
	}
	entry.raw = raw
	entry.revision++
	return nil
}

// descend walks to the parent of the final path element, creating
// intermediate objects as needed, and returns the parent plus the leaf key.
func descend(root map[string]any, path []string) (map[string]any, string, error) {
	if len(path) == 0 {
		return nil, "", fmt.Errorf("empty document path")
	}

	current := root
	for _, segment := range path[:len(path)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[segment] = next
		}
		current = next
	}
	return current, path[len(path)-1], nil
}

// roundTrip converts a value to its generic JSON form so stored documents
// stay uniform regardless of the caller's concrete types.
func roundTrip(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}
