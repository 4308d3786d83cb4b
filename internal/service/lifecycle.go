package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/Harshitk-cp/mnemo/internal/store"
	"go.uber.org/zap"
)

const (
	// ReinforcementK scales the diminishing-returns confidence boost:
	// boost = K * (1 - confidence).
	ReinforcementK = 0.05
	// ConfidenceCeiling is the hard cap on reinforced confidence. No fact
	// is ever treated as certain.
	ConfidenceCeiling = 0.95
	// DecayRatePerDay is the passive exponential decay applied to
	// confidence since the last validation.
	DecayRatePerDay = 0.01
	// DefaultAgingThreshold is how long a memory stays trusted without
	// reinforcement before reads flag it as aging.
	DefaultAgingThreshold = 14 * 24 * time.Hour
	// SupersedeSimilarity is the embedding similarity above which a new
	// fact about the same entities counts as a restatement of an old one.
	SupersedeSimilarity = 0.90
	// DefaultMemoryConfidence is the starting confidence for a fact stated
	// in conversation.
	DefaultMemoryConfidence = 0.8
	// DefaultMemoryImportance is used when the caller does not rate the
	// fact.
	DefaultMemoryImportance = 0.5
)

var ErrMemoryNotFound = errors.New("memory not found")

// MemoryLifecycleService governs creation, deduplication, reinforcement,
// decay, and status transitions of stored facts.
type MemoryLifecycleService struct {
	memoryStore     domain.MemoryStore
	embeddingClient domain.EmbeddingClient
	logger          *zap.Logger

	AgingThreshold time.Duration
	BucketHours    int
	DecayRate      float64
}

func NewMemoryLifecycleService(ms domain.MemoryStore, ec domain.EmbeddingClient, logger *zap.Logger) *MemoryLifecycleService {
	return &MemoryLifecycleService{
		memoryStore:     ms,
		embeddingClient: ec,
		logger:          logger,
		AgingThreshold:  DefaultAgingThreshold,
		BucketHours:     MemoryBucketHours,
		DecayRate:       DecayRatePerDay,
	}
}

// ReinforcementBoost returns the confidence after one reinforcement. The
// increase shrinks as confidence approaches the ceiling and never crosses
// it.
func ReinforcementBoost(confidence float32) float32 {
	boosted := confidence + ReinforcementK*(1-confidence)
	if boosted > ConfidenceCeiling {
		return ConfidenceCeiling
	}
	return boosted
}

// RememberInput carries a stated fact. Confidence and Importance are
// optional; nil means the defaults, so an explicit zero is preserved.
type RememberInput struct {
	UserID     string
	Content    string
	Entities   []string
	Confidence *float32
	Importance *float32
}

type RememberResult struct {
	Memory       *domain.StoredMemory `json:"memory"`
	Reinforced   bool                 `json:"reinforced"`
	SupersededID int64                `json:"superseded_id,omitempty"`
}

// Remember stores a fact, collapsing restatements inside the dedup window
// into a reinforcement and superseding older conflicting facts about the
// same entities. Storage failures propagate: a silently lost write would
// corrupt the dedup and lifecycle invariants.
func (s *MemoryLifecycleService) Remember(ctx context.Context, input RememberInput) (*RememberResult, error) {
	now := time.Now()

	confidence := float32(DefaultMemoryConfidence)
	if input.Confidence != nil {
		confidence = *input.Confidence
	}
	importance := float32(DefaultMemoryImportance)
	if input.Importance != nil {
		importance = *input.Importance
	}

	m := &domain.StoredMemory{
		UserID:     input.UserID,
		Entities:   input.Entities,
		Content:    input.Content,
		Confidence: confidence,
		Importance: importance,
		Status:     domain.MemoryStatusActive,
		SourceHash: ContentHash(input.UserID, input.Content, now, s.BucketHours),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.memoryStore.FindByHash(ctx, input.UserID, m.SourceHash)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if existing != nil && existing.Status.Retrievable() {
		if err := s.Reinforce(ctx, existing); err != nil {
			return nil, err
		}
		return &RememberResult{Memory: existing, Reinforced: true}, nil
	}

	if s.embeddingClient != nil {
		emb, err := s.embeddingClient.Embed(ctx, input.Content)
		if err != nil {
			s.logger.Warn("embedding generation failed", zap.Error(err))
		} else {
			m.Embedding = emb
		}
	}

	supersededID, err := s.supersedeConflicting(ctx, m)
	if err != nil {
		return nil, err
	}

	if err := s.memoryStore.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create memory: %w", err)
	}

	s.logger.Debug("memory created",
		zap.Int64("memory_id", m.ID),
		zap.String("user_id", m.UserID),
		zap.Int64("superseded_id", supersededID))

	return &RememberResult{Memory: m, SupersededID: supersededID}, nil
}

// supersedeConflicting marks an older retrievable fact about the same
// subject as superseded. Two memories are about the same subject when they
// share the exact entity set and their embeddings are near-identical while
// the normalized content differs.
func (s *MemoryLifecycleService) supersedeConflicting(ctx context.Context, m *domain.StoredMemory) (int64, error) {
	if len(m.Embedding) == 0 || len(m.Entities) == 0 {
		return 0, nil
	}

	candidates, err := s.memoryStore.FindCandidates(ctx, m.UserID, m.Entities)
	if err != nil {
		return 0, fmt.Errorf("supersede lookup: %w", err)
	}

	newContent := strings.ToLower(strings.TrimSpace(m.Content))
	for i := range candidates {
		old := &candidates[i]
		if !sameEntitySet(old.Entities, m.Entities) {
			continue
		}
		if strings.ToLower(strings.TrimSpace(old.Content)) == newContent {
			continue
		}
		if len(old.Embedding) == 0 {
			continue
		}
		if cosineSimilarity(old.Embedding, m.Embedding) < SupersedeSimilarity {
			continue
		}

		if err := s.memoryStore.UpdateStatus(ctx, old.ID, old.Status, domain.MemoryStatusSuperseded); err != nil {
			return 0, fmt.Errorf("mark superseded: %w", err)
		}
		s.logger.Info("memory superseded",
			zap.Int64("old_id", old.ID),
			zap.String("user_id", m.UserID))
		return old.ID, nil
	}
	return 0, nil
}

// Reinforce applies the diminishing-returns boost and restores an aging
// memory to active.
func (s *MemoryLifecycleService) Reinforce(ctx context.Context, m *domain.StoredMemory) error {
	if !m.Status.Retrievable() {
		return domain.ErrInvalidTransition
	}

	now := time.Now()
	newConfidence := ReinforcementBoost(m.Confidence)
	newCount := m.ReinforcementCount + 1

	// One conditional write covers both the boost and the revival of an
	// aging memory; a failure leaves the row untouched.
	if err := s.memoryStore.UpdateReinforcement(ctx, m.ID, newConfidence, newCount, now); err != nil {
		return fmt.Errorf("update reinforcement: %w", err)
	}
	m.Status = domain.MemoryStatusActive

	s.logger.Debug("memory reinforced",
		zap.Int64("memory_id", m.ID),
		zap.Float32("old_confidence", m.Confidence),
		zap.Float32("new_confidence", newConfidence),
		zap.Int("reinforcement_count", newCount))

	m.Confidence = newConfidence
	m.ReinforcementCount = newCount
	m.LastValidatedAt = &now
	return nil
}

// Invalidate marks a memory rejected by explicit user correction. Terminal;
// a second invalidation is a no-op.
func (s *MemoryLifecycleService) Invalidate(ctx context.Context, id int64) error {
	m, err := s.memoryStore.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMemoryNotFound
		}
		return err
	}
	if m.Status == domain.MemoryStatusInvalidated {
		return nil
	}
	return s.memoryStore.UpdateStatus(ctx, id, m.Status, domain.MemoryStatusInvalidated)
}

// DecayedConfidence is the confidence after passive time decay since the
// last validation. Decay never drops below zero and never invalidates.
func (s *MemoryLifecycleService) DecayedConfidence(m *domain.StoredMemory, now time.Time) float32 {
	days := now.Sub(m.ValidatedAt()).Hours() / 24
	if days <= 0 {
		return m.Confidence
	}
	return float32(float64(m.Confidence) * math.Exp(-s.DecayRate*days))
}

// EffectiveStatus evaluates aging lazily: an active memory past the age
// threshold reads as aging. No background job ages memories.
func (s *MemoryLifecycleService) EffectiveStatus(m *domain.StoredMemory, now time.Time) domain.MemoryStatus {
	if m.Status == domain.MemoryStatusActive && now.Sub(m.ValidatedAt()) > s.AgingThreshold {
		return domain.MemoryStatusAging
	}
	return m.Status
}

// Candidates returns the user's retrievable memories for the given
// entities with lazy aging applied. A failed status flip degrades to the
// computed status rather than failing the read.
func (s *MemoryLifecycleService) Candidates(ctx context.Context, userID string, entityIDs []string) ([]domain.StoredMemory, error) {
	memories, err := s.memoryStore.FindCandidates(ctx, userID, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}

	now := time.Now()
	for i := range memories {
		m := &memories[i]
		effective := s.EffectiveStatus(m, now)
		if effective != m.Status {
			if err := s.memoryStore.UpdateStatus(ctx, m.ID, m.Status, effective); err != nil {
				s.logger.Warn("aging transition failed",
					zap.Int64("memory_id", m.ID),
					zap.Error(err))
			}
			m.Status = effective
		}
	}
	return memories, nil
}

// Touch records a retrieval hit for temporal-relevance scoring.
func (s *MemoryLifecycleService) Touch(ctx context.Context, id int64) error {
	return s.memoryStore.TouchAccess(ctx, id)
}

func sameEntitySet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := make([]string, len(a))
	bs := make([]string, len(b))
	copy(as, a)
	copy(bs, b)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
