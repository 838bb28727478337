package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/renalworks/publications-pipeline/internal/database"
	"github.com/renalworks/publications-pipeline/internal/domain"
)

// SQL statements for the publication cache table.
const (
	sqlGetDocument = `
		SELECT doc, revision
		FROM publication_cache
		WHERE id = $1`

	sqlInsertDocument = `
		INSERT INTO publication_cache (id, doc)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (id) DO NOTHING
		RETURNING revision`

	sqlUpdateWithRevision = `
		UPDATE publication_cache
		SET doc = $2::jsonb, revision = revision + 1, updated_at = now()
		WHERE id = $1 AND revision = $3
		RETURNING revision`

	sqlPatchPath = `
		UPDATE publication_cache
		SET doc = jsonb_set(doc, $2, $3::jsonb, true),
		    revision = revision + 1,
		    updated_at = now()
		WHERE id = $1`

	sqlIncrementField = `
		UPDATE publication_cache
		SET doc = jsonb_set(doc, $2, to_jsonb(COALESCE((doc #>> $2)::bigint, 0) + $3), true),
		    revision = revision + 1,
		    updated_at = now()
		WHERE id = $1`

	sqlAppendToArray = `
		UPDATE publication_cache
		SET doc = jsonb_set(doc, $2, COALESCE(doc #> $2, '[]'::jsonb) || $3::jsonb, true),
		    revision = revision + 1,
		    updated_at = now()
		WHERE id = $1`
)

// PgDocumentStore implements DocumentStore on a PostgreSQL JSONB table with
// a revision column as the optimistic concurrency marker.
type PgDocumentStore struct {
	db     database.DBTX
	logger zerolog.Logger
}

var _ DocumentStore = (*PgDocumentStore)(nil)

// NewPgDocumentStore creates a PostgreSQL-backed document store.
func NewPgDocumentStore(db database.DBTX, logger zerolog.Logger) *PgDocumentStore {
	return &PgDocumentStore{
		db:     db,
		logger: logger.With().Str("component", "pg_document_store").Logger(),
	}
}

// Get returns the document and its current revision.
func (s *PgDocumentStore) Get(ctx context.Context, id string) (*StoredDocument, error) {
	var raw []byte
	var revision int64

	err := s.db.QueryRow(ctx, sqlGetDocument, id).Scan(&raw, &revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("cache document", id)
		}
		return nil, fmt.Errorf("failed to read cache document: %w", err)
	}

	var doc domain.CacheDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode cache document: %w", err)
	}

	return &StoredDocument{Doc: &doc, Revision: revision}, nil
}

// Insert creates the document and returns its initial revision.
func (s *PgDocumentStore) Insert(ctx context.Context, id string, doc *domain.CacheDocument) (int64, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to encode cache document: %w", err)
	}

	var revision int64
	err = s.db.QueryRow(ctx, sqlInsertDocument, id, raw).Scan(&revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// ON CONFLICT DO NOTHING returned no row: the id is taken.
			return 0, domain.NewAlreadyExistsError("cache document", id)
		}
		return 0, fmt.Errorf("failed to insert cache document: %w", err)
	}

	return revision, nil
}

// UpdateWithRevision replaces the document guarded by the expected revision.
func (s *PgDocumentStore) UpdateWithRevision(ctx context.Context, id string, doc *domain.CacheDocument, expected int64) (int64, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to encode cache document: %w", err)
	}

	var revision int64
	err = s.db.QueryRow(ctx, sqlUpdateWithRevision, id, raw, expected).Scan(&revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrRevisionConflict
		}
		return 0, fmt.Errorf("failed to update cache document: %w", err)
	}

	return revision, nil
}

// PatchPath sets the value at path inside the document.
func (s *PgDocumentStore) PatchPath(ctx context.Context, id string, path []string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode patch value: %w", err)
	}

	tag, err := s.db.Exec(ctx, sqlPatchPath, id, path, raw)
	if err != nil {
		return fmt.Errorf("failed to patch cache document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("cache document", id)
	}
	return nil
}

// IncrementField adds delta to the numeric field at path.
func (s *PgDocumentStore) IncrementField(ctx context.Context, id string, path []string, delta int64) error {
	tag, err := s.db.Exec(ctx, sqlIncrementField, id, path, delta)
	if err != nil {
		return fmt.Errorf("failed to increment cache field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("cache document", id)
	}
	return nil
}

// AppendToArray appends values to the array at path.
func (s *PgDocumentStore) AppendToArray(ctx context.Context, id string, path []string, values ...any) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode append values: %w", err)
	}

	tag, err := s.db.Exec(ctx, sqlAppendToArray, id, path, raw)
	if err != nil {
		return fmt.Errorf("failed to append to cache array: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("cache document", id)
	}
	return nil
}
