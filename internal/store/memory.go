package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

type MemoryStore struct {
	db *pgxpool.Pool
}

func NewMemoryStore(db *pgxpool.Pool) *MemoryStore {
	return &MemoryStore{db: db}
}

const memoryColumns = `id, user_id, entities, content, confidence, importance, status, source_hash, embedding, reinforcement_count, created_at, last_accessed_at, last_validated_at`

func scanMemory(row pgx.Row) (*domain.StoredMemory, error) {
	m := &domain.StoredMemory{}
	var embedding *pgvector.Vector
	err := row.Scan(&m.ID, &m.UserID, &m.Entities, &m.Content, &m.Confidence, &m.Importance, &m.Status, &m.SourceHash, &embedding, &m.ReinforcementCount, &m.CreatedAt, &m.LastAccessedAt, &m.LastValidatedAt)
	if err != nil {
		return nil, err
	}
	if embedding != nil {
		m.Embedding = embedding.Slice()
	}
	return m, nil
}

func (s *MemoryStore) Create(ctx context.Context, m *domain.StoredMemory) error {
	var embedding *pgvector.Vector
	if len(m.Embedding) > 0 {
		v := pgvector.NewVector(m.Embedding)
		embedding = &v
	}

	return s.db.QueryRow(ctx,
		`INSERT INTO memories (user_id, entities, content, confidence, importance, status, source_hash, embedding, reinforcement_count, last_accessed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 RETURNING id, created_at, last_accessed_at`,
		m.UserID, m.Entities, m.Content, m.Confidence, m.Importance, m.Status, m.SourceHash, embedding, m.ReinforcementCount,
	).Scan(&m.ID, &m.CreatedAt, &m.LastAccessedAt)
}

func (s *MemoryStore) GetByID(ctx context.Context, id int64) (*domain.StoredMemory, error) {
	m, err := scanMemory(s.db.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *MemoryStore) FindByHash(ctx context.Context, userID, hash string) (*domain.StoredMemory, error) {
	m, err := scanMemory(s.db.QueryRow(ctx,
		`SELECT `+memoryColumns+`
		 FROM memories
		 WHERE user_id = $1 AND source_hash = $2 AND status IN ('active', 'aging')
		 ORDER BY id DESC
		 LIMIT 1`,
		userID, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// UpdateStatus transitions a memory conditionally on its current status so
// concurrent writers cannot race an illegal transition into the row.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id int64, from, to domain.MemoryStatus) error {
	if !from.CanTransition(to) {
		return domain.ErrInvalidTransition
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE memories SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// UpdateReinforcement applies the boost and revives an aging memory to
// active in one conditional write, so a memory can never end up revived
// without its boost or vice versa.
func (s *MemoryStore) UpdateReinforcement(ctx context.Context, id int64, confidence float32, count int, validatedAt time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE memories
		 SET confidence = $2, reinforcement_count = $3, last_validated_at = $4, status = 'active'
		 WHERE id = $1 AND status IN ('active', 'aging')`,
		id, confidence, count, validatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// FindCandidates returns retrievable memories for the user referencing any
// of the given entities; with no entities it returns all of the user's
// retrievable memories.
func (s *MemoryStore) FindCandidates(ctx context.Context, userID string, entityIDs []string) ([]domain.StoredMemory, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+memoryColumns+`
		 FROM memories
		 WHERE user_id = $1 AND status IN ('active', 'aging')
		   AND (cardinality($2::text[]) = 0 OR entities && $2)
		 ORDER BY id`,
		userID, entityIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("find candidates query: %w", err)
	}
	defer rows.Close()

	var memories []domain.StoredMemory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}

func (s *MemoryStore) TouchAccess(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE memories SET last_accessed_at = NOW() WHERE id = $1`,
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
