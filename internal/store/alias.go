package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AliasStore struct {
	db *pgxpool.Pool
}

func NewAliasStore(db *pgxpool.Pool) *AliasStore {
	return &AliasStore{db: db}
}

// Find looks up an alias case-insensitively. A user-scoped alias shadows a
// global alias with the same text.
func (s *AliasStore) Find(ctx context.Context, text, userID string) (*domain.EntityAlias, error) {
	a := &domain.EntityAlias{}
	err := s.db.QueryRow(ctx,
		`SELECT id, canonical_entity_id, alias_text, alias_source, user_id, confidence, use_count, created_at, updated_at
		 FROM entity_aliases
		 WHERE LOWER(alias_text) = LOWER($1) AND (user_id = $2 OR user_id IS NULL)
		 ORDER BY (user_id IS NULL), id
		 LIMIT 1`,
		text, userID,
	).Scan(&a.ID, &a.CanonicalEntityID, &a.AliasText, &a.Source, &a.UserID, &a.Confidence, &a.UseCount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// Create inserts an alias idempotently on (lower(alias_text), user_id).
// When a concurrent writer got there first, the existing row is loaded into
// a and no duplicate is created.
func (s *AliasStore) Create(ctx context.Context, a *domain.EntityAlias) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO entity_aliases (canonical_entity_id, alias_text, alias_source, user_id, confidence, use_count)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (LOWER(alias_text), user_id) DO NOTHING
		 RETURNING id, created_at, updated_at`,
		a.CanonicalEntityID, a.AliasText, a.Source, a.UserID, a.Confidence, a.UseCount,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("insert alias: %w", err)
	}

	// Lost the race; converge on the winner's row.
	existing, err := s.findExact(ctx, a.AliasText, a.UserID)
	if err != nil {
		return fmt.Errorf("load existing alias: %w", err)
	}
	*a = *existing
	return nil
}

func (s *AliasStore) findExact(ctx context.Context, text string, userID *string) (*domain.EntityAlias, error) {
	a := &domain.EntityAlias{}
	err := s.db.QueryRow(ctx,
		`SELECT id, canonical_entity_id, alias_text, alias_source, user_id, confidence, use_count, created_at, updated_at
		 FROM entity_aliases
		 WHERE LOWER(alias_text) = LOWER($1) AND user_id IS NOT DISTINCT FROM $2`,
		text, userID,
	).Scan(&a.ID, &a.CanonicalEntityID, &a.AliasText, &a.Source, &a.UserID, &a.Confidence, &a.UseCount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *AliasStore) IncrementUse(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE entity_aliases SET use_count = use_count + 1, updated_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
