package service

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Harshitk-cp/mnemo/internal/domain"
)

const (
	// DefaultTemporalDecay is the per-hour decay of the temporal-relevance
	// signal since last access.
	DefaultTemporalDecay = 0.005
	// ReinforcementHalfSaturation sets where the reinforcement signal
	// reaches 0.5: count / (count + this).
	ReinforcementHalfSaturation = 3.0
	weightSumTolerance          = 1e-6
)

// ScoreWeights is the configuration surface for retrieval ranking. The
// five weights must sum to 1.0.
type ScoreWeights struct {
	Semantic      float64 `json:"semantic"`
	EntityOverlap float64 `json:"entity_overlap"`
	Temporal      float64 `json:"temporal"`
	Importance    float64 `json:"importance"`
	Reinforcement float64 `json:"reinforcement"`
}

func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Semantic:      0.35,
		EntityOverlap: 0.25,
		Temporal:      0.15,
		Importance:    0.15,
		Reinforcement: 0.10,
	}
}

func (w ScoreWeights) Validate() error {
	sum := w.Semantic + w.EntityOverlap + w.Temporal + w.Importance + w.Reinforcement
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("score weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// RetrievalQuery carries the signals a query contributes to scoring.
type RetrievalQuery struct {
	Embedding []float32
	EntityIDs []string
}

// ScoreBreakdown exposes the per-signal values behind a final score.
type ScoreBreakdown struct {
	Semantic      float64 `json:"semantic"`
	EntityOverlap float64 `json:"entity_overlap"`
	Temporal      float64 `json:"temporal"`
	Importance    float64 `json:"importance"`
	Reinforcement float64 `json:"reinforcement"`
	FinalScore    float64 `json:"final_score"`
}

type ScoredMemory struct {
	domain.StoredMemory
	Score     float64         `json:"score"`
	Breakdown *ScoreBreakdown `json:"score_breakdown,omitempty"`
}

// RetrievalScorer ranks candidate memories for a query with a fixed
// weighted sum of five normalized signals.
type RetrievalScorer struct {
	Weights       ScoreWeights
	TemporalDecay float64
}

func NewRetrievalScorer(weights ScoreWeights) (*RetrievalScorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &RetrievalScorer{
		Weights:       weights,
		TemporalDecay: DefaultTemporalDecay,
	}, nil
}

func (s *RetrievalScorer) Score(q RetrievalQuery, mem domain.StoredMemory, now time.Time) ScoredMemory {
	semantic := float64(clamp01(cosineSimilarity(q.Embedding, mem.Embedding)))
	overlap := entityOverlap(q.EntityIDs, mem.Entities)

	ageHours := now.Sub(mem.LastAccessedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	temporal := math.Exp(-s.TemporalDecay * ageHours)

	reinforcement := float64(mem.ReinforcementCount) / (float64(mem.ReinforcementCount) + ReinforcementHalfSaturation)

	breakdown := &ScoreBreakdown{
		Semantic:      semantic,
		EntityOverlap: overlap,
		Temporal:      temporal,
		Importance:    float64(mem.Importance),
		Reinforcement: reinforcement,
	}
	breakdown.FinalScore = s.Weights.Semantic*semantic +
		s.Weights.EntityOverlap*overlap +
		s.Weights.Temporal*temporal +
		s.Weights.Importance*float64(mem.Importance) +
		s.Weights.Reinforcement*reinforcement

	return ScoredMemory{
		StoredMemory: mem,
		Score:        breakdown.FinalScore,
		Breakdown:    breakdown,
	}
}

// ScoreAndRank scores every candidate (all five signals need a full pass),
// orders by score with a total tie-break (last access desc, then id asc),
// and caps the result at limit.
func (s *RetrievalScorer) ScoreAndRank(q RetrievalQuery, memories []domain.StoredMemory, now time.Time, limit int) []ScoredMemory {
	scored := make([]ScoredMemory, 0, len(memories))
	for _, mem := range memories {
		scored = append(scored, s.Score(q, mem, now))
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].LastAccessedAt.Equal(scored[j].LastAccessedAt) {
			return scored[i].LastAccessedAt.After(scored[j].LastAccessedAt)
		}
		return scored[i].ID < scored[j].ID
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// entityOverlap is the fraction of the query's entities the memory also
// references. A query with no resolved entities contributes nothing on this
// signal.
func entityOverlap(query, memory []string) float64 {
	if len(query) == 0 {
		return 0
	}
	memSet := make(map[string]bool, len(memory))
	for _, id := range memory {
		memSet[id] = true
	}
	hits := 0
	for _, id := range query {
		if memSet[id] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
