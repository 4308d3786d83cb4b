package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EntityStore struct {
	db *pgxpool.Pool
}

func NewEntityStore(db *pgxpool.Pool) *EntityStore {
	return &EntityStore{db: db}
}

// Create inserts a canonical entity idempotently on entity_id. A second
// create of the same external record converges on the existing row.
func (s *EntityStore) Create(ctx context.Context, e *domain.CanonicalEntity) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO entities (entity_id, entity_type, canonical_name, source_table, source_id, properties)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (entity_id) DO NOTHING
		 RETURNING created_at, updated_at`,
		e.EntityID, e.EntityType, e.CanonicalName, e.ExternalRef.SourceTable, e.ExternalRef.SourceID, e.Properties,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("insert entity: %w", err)
	}

	existing, err := s.GetByID(ctx, e.EntityID)
	if err != nil {
		return fmt.Errorf("load existing entity: %w", err)
	}
	*e = *existing
	return nil
}

func (s *EntityStore) GetByID(ctx context.Context, id string) (*domain.CanonicalEntity, error) {
	e := &domain.CanonicalEntity{}
	err := s.db.QueryRow(ctx,
		`SELECT entity_id, entity_type, canonical_name, source_table, source_id, properties, created_at, updated_at
		 FROM entities WHERE entity_id = $1`,
		id,
	).Scan(&e.EntityID, &e.EntityType, &e.CanonicalName, &e.ExternalRef.SourceTable, &e.ExternalRef.SourceID, &e.Properties, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *EntityStore) FindByName(ctx context.Context, name string) (*domain.CanonicalEntity, error) {
	e := &domain.CanonicalEntity{}
	err := s.db.QueryRow(ctx,
		`SELECT entity_id, entity_type, canonical_name, source_table, source_id, properties, created_at, updated_at
		 FROM entities WHERE LOWER(canonical_name) = LOWER($1)`,
		name,
	).Scan(&e.EntityID, &e.EntityType, &e.CanonicalName, &e.ExternalRef.SourceTable, &e.ExternalRef.SourceID, &e.Properties, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// FuzzySearch ranks entities by pg_trgm similarity between the mention and
// the canonical name or any known alias, best score per entity.
func (s *EntityStore) FuzzySearch(ctx context.Context, text string, threshold float32) ([]domain.EntityMatch, error) {
	rows, err := s.db.Query(ctx,
		`SELECT e.entity_id, e.entity_type, e.canonical_name, e.source_table, e.source_id, e.properties, e.created_at, e.updated_at,
		        GREATEST(similarity(e.canonical_name, $1), COALESCE(MAX(similarity(a.alias_text, $1)), 0)) AS score
		 FROM entities e
		 LEFT JOIN entity_aliases a ON a.canonical_entity_id = e.entity_id
		 GROUP BY e.entity_id, e.entity_type, e.canonical_name, e.source_table, e.source_id, e.properties, e.created_at, e.updated_at
		 HAVING GREATEST(similarity(e.canonical_name, $1), COALESCE(MAX(similarity(a.alias_text, $1)), 0)) >= $2
		 ORDER BY score DESC
		 LIMIT 10`,
		text, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("fuzzy search query: %w", err)
	}
	defer rows.Close()

	var matches []domain.EntityMatch
	for rows.Next() {
		var m domain.EntityMatch
		if err := rows.Scan(&m.EntityID, &m.EntityType, &m.CanonicalName, &m.ExternalRef.SourceTable, &m.ExternalRef.SourceID, &m.Properties, &m.CreatedAt, &m.UpdatedAt, &m.Score); err != nil {
			return nil, fmt.Errorf("scan fuzzy match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *EntityStore) UpdateProperties(ctx context.Context, id string, props map[string]any) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE entities SET properties = COALESCE(properties, '{}'::jsonb) || $2, updated_at = NOW() WHERE entity_id = $1`,
		id, props,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
