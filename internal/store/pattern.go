package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

type PatternStore struct {
	db *pgxpool.Pool
}

func NewPatternStore(db *pgxpool.Pool) *PatternStore {
	return &PatternStore{db: db}
}

// FindByFeatures looks up the pattern equivalent to the given trigger
// features. entity_types is stored sorted, so array equality is feature-set
// equality.
func (s *PatternStore) FindByFeatures(ctx context.Context, userID, anchorTool string, entityTypes []string) (*domain.ProceduralPattern, error) {
	p := &domain.ProceduralPattern{}
	var embedding *pgvector.Vector
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, trigger_pattern, anchor_tool, entity_types, action_heuristic, action_tools, trigger_embedding, observed_count, confidence, created_at, updated_at
		 FROM patterns
		 WHERE user_id = $1 AND anchor_tool = $2 AND entity_types = $3`,
		userID, anchorTool, entityTypes,
	).Scan(&p.ID, &p.UserID, &p.TriggerPattern, &p.TriggerFeatures.AnchorTool, &p.TriggerFeatures.EntityTypes, &p.ActionHeuristic, &p.ActionStructure.Tools, &embedding, &p.ObservedCount, &p.Confidence, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if embedding != nil {
		p.TriggerEmbedding = embedding.Slice()
	}
	return p, nil
}

// Create inserts a pattern idempotently on (user_id, anchor_tool,
// entity_types): a concurrent miner for the same user converges on one row.
func (s *PatternStore) Create(ctx context.Context, p *domain.ProceduralPattern) error {
	var embedding *pgvector.Vector
	if len(p.TriggerEmbedding) > 0 {
		v := pgvector.NewVector(p.TriggerEmbedding)
		embedding = &v
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO patterns (user_id, trigger_pattern, anchor_tool, entity_types, action_heuristic, action_tools, trigger_embedding, observed_count, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, anchor_tool, entity_types) DO NOTHING
		 RETURNING id, created_at, updated_at`,
		p.UserID, p.TriggerPattern, p.TriggerFeatures.AnchorTool, p.TriggerFeatures.EntityTypes,
		p.ActionHeuristic, p.ActionStructure.Tools, embedding, p.ObservedCount, p.Confidence,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("insert pattern: %w", err)
	}

	existing, err := s.FindByFeatures(ctx, p.UserID, p.TriggerFeatures.AnchorTool, p.TriggerFeatures.EntityTypes)
	if err != nil {
		return fmt.Errorf("load existing pattern: %w", err)
	}
	*p = *existing
	return nil
}

func (s *PatternStore) UpdateReinforcement(ctx context.Context, id uuid.UUID, confidence float32, observedCount int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE patterns SET confidence = $2, observed_count = $3, updated_at = NOW() WHERE id = $1`,
		id, confidence, observedCount,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PatternStore) FindSimilar(ctx context.Context, userID string, embedding []float32, limit int) ([]domain.PatternWithScore, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, trigger_pattern, anchor_tool, entity_types, action_heuristic, action_tools, observed_count, confidence, created_at, updated_at,
		        1 - (trigger_embedding <=> $2) AS score
		 FROM patterns
		 WHERE user_id = $1 AND trigger_embedding IS NOT NULL
		 ORDER BY score DESC
		 LIMIT $3`,
		userID, vec, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pattern similarity query: %w", err)
	}
	defer rows.Close()

	var patterns []domain.PatternWithScore
	for rows.Next() {
		var p domain.PatternWithScore
		if err := rows.Scan(&p.ID, &p.UserID, &p.TriggerPattern, &p.TriggerFeatures.AnchorTool, &p.TriggerFeatures.EntityTypes, &p.ActionHeuristic, &p.ActionStructure.Tools, &p.ObservedCount, &p.Confidence, &p.CreatedAt, &p.UpdatedAt, &p.Score); err != nil {
			return nil, fmt.Errorf("scan pattern row: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}
