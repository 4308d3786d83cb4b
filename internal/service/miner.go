package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/Harshitk-cp/mnemo/internal/store"
	"go.uber.org/zap"
)

const (
	// DefaultMinSupport is the minimum number of sequences sharing an
	// anchor tool before the group is considered frequent.
	DefaultMinSupport = 3
	// MajorityFraction is the co-occurrence rate a tool needs within a
	// frequent group to be promoted into the action set.
	MajorityFraction = 0.5
	// DefaultMiningWindow bounds the in-memory frequency analysis.
	DefaultMiningWindow = 500
	// NewPatternConfidenceCap caps frequency-only detection below the
	// reinforcement ceiling; counting co-occurrences is weaker evidence
	// than repeated confirmation.
	NewPatternConfidenceCap = 0.90
	// DefaultMiningLookback is how far back the mining window reaches.
	DefaultMiningLookback = 7 * 24 * time.Hour
	// DefaultAugmentMinConfidence filters weak patterns out of query
	// augmentation.
	DefaultAugmentMinConfidence = 0.4
)

// PatternMinerService discovers "when tool X is called, also call Y"
// heuristics from recent usage logs and reinforces them on re-detection.
type PatternMinerService struct {
	usageLogStore   domain.UsageLogStore
	patternStore    domain.PatternStore
	embeddingClient domain.EmbeddingClient
	logger          *zap.Logger

	MinSupport int
	Window     int
	Lookback   time.Duration
}

func NewPatternMinerService(us domain.UsageLogStore, ps domain.PatternStore, ec domain.EmbeddingClient, logger *zap.Logger) *PatternMinerService {
	return &PatternMinerService{
		usageLogStore:   us,
		patternStore:    ps,
		embeddingClient: ec,
		logger:          logger,
		MinSupport:      DefaultMinSupport,
		Window:          DefaultMiningWindow,
		Lookback:        DefaultMiningLookback,
	}
}

// toolSequence is one usage-log entry reduced to its ordered distinct tool
// names and the entity types inferred from argument names.
type toolSequence struct {
	tools       []string
	entityTypes map[string]bool
}

type MiningResult struct {
	EntriesAnalyzed    int `json:"entries_analyzed"`
	PatternsCreated    int `json:"patterns_created"`
	PatternsReinforced int `json:"patterns_reinforced"`
}

// NewPatternConfidence grows with supporting sequences and is hard-capped.
func NewPatternConfidence(groupSize int) float32 {
	conf := 0.5 + float32(groupSize)/20
	if conf > NewPatternConfidenceCap {
		return NewPatternConfidenceCap
	}
	return conf
}

// Mine analyzes the user's recent usage window and creates or reinforces
// patterns. Pattern writes are strict: a half-written pattern would poison
// later equivalence checks, so store failures propagate.
func (s *PatternMinerService) Mine(ctx context.Context, userID string) (*MiningResult, error) {
	since := time.Now().Add(-s.Lookback)
	entries, err := s.usageLogStore.RecentEntries(ctx, userID, since, s.Window)
	if err != nil {
		return nil, fmt.Errorf("load usage window: %w", err)
	}

	result := &MiningResult{EntriesAnalyzed: len(entries)}

	groups := make(map[string][]toolSequence)
	for _, entry := range entries {
		seq := extractSequence(entry)
		if len(seq.tools) == 0 {
			continue
		}
		anchor := seq.tools[0]
		groups[anchor] = append(groups[anchor], seq)
	}

	for anchor, seqs := range groups {
		if len(seqs) < s.MinSupport {
			continue
		}

		actions := majorityCooccurring(anchor, seqs)
		if len(actions) == 0 {
			continue
		}
		entityTypes := majorityEntityTypes(seqs)

		created, err := s.upsertPattern(ctx, userID, anchor, entityTypes, actions, len(seqs))
		if err != nil {
			return nil, err
		}
		if created {
			result.PatternsCreated++
		} else {
			result.PatternsReinforced++
		}
	}

	s.logger.Info("mining pass complete",
		zap.String("user_id", userID),
		zap.Int("entries", result.EntriesAnalyzed),
		zap.Int("created", result.PatternsCreated),
		zap.Int("reinforced", result.PatternsReinforced))

	return result, nil
}

func (s *PatternMinerService) upsertPattern(ctx context.Context, userID, anchor string, entityTypes, actions []string, groupSize int) (created bool, err error) {
	existing, err := s.patternStore.FindByFeatures(ctx, userID, anchor, entityTypes)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("pattern lookup: %w", err)
	}

	if existing != nil {
		newConfidence := ReinforcementBoost(existing.Confidence)
		if err := s.patternStore.UpdateReinforcement(ctx, existing.ID, newConfidence, existing.ObservedCount+1); err != nil {
			return false, fmt.Errorf("reinforce pattern: %w", err)
		}
		s.logger.Debug("pattern reinforced",
			zap.String("anchor", anchor),
			zap.Float32("confidence", newConfidence))
		return false, nil
	}

	pattern := &domain.ProceduralPattern{
		UserID:         userID,
		TriggerPattern: triggerText(anchor, entityTypes),
		TriggerFeatures: domain.TriggerFeatures{
			AnchorTool:  anchor,
			EntityTypes: entityTypes,
		},
		ActionHeuristic: actionText(actions),
		ActionStructure: domain.ActionStructure{Tools: actions},
		ObservedCount:   groupSize,
		Confidence:      NewPatternConfidence(groupSize),
	}
	if err := pattern.Validate(); err != nil {
		return false, err
	}

	if s.embeddingClient != nil {
		emb, err := s.embeddingClient.Embed(ctx, pattern.TriggerPattern)
		if err != nil {
			s.logger.Warn("trigger embedding failed", zap.Error(err))
		} else {
			pattern.TriggerEmbedding = emb
		}
	}

	if err := s.patternStore.Create(ctx, pattern); err != nil {
		return false, fmt.Errorf("create pattern: %w", err)
	}

	s.logger.Info("pattern discovered",
		zap.String("user_id", userID),
		zap.String("anchor", anchor),
		zap.Strings("actions", actions),
		zap.Float32("confidence", pattern.Confidence))
	return true, nil
}

// Augment returns the user's patterns most similar to the query embedding,
// filtered to a minimum confidence. Augmentation is optional enrichment: a
// failing store degrades to no patterns, never to an error.
func (s *PatternMinerService) Augment(ctx context.Context, userID string, embedding []float32, limit int, minConfidence float32) []domain.PatternWithScore {
	if limit <= 0 {
		limit = 3
	}
	if minConfidence == 0 {
		minConfidence = DefaultAugmentMinConfidence
	}

	// Fetch past the limit so the confidence filter cannot starve it when
	// the most similar patterns happen to be weak ones.
	patterns, err := s.patternStore.FindSimilar(ctx, userID, embedding, limit*4)
	if err != nil {
		s.logger.Warn("pattern augmentation unavailable",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil
	}

	filtered := patterns[:0]
	for _, p := range patterns {
		if p.Confidence >= minConfidence {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// extractSequence reduces a log entry to its ordered distinct tool names
// (first occurrence wins) and the entity types inferred from argument
// names: an argument named customer_id implies entity type customer.
func extractSequence(entry domain.UsageLogEntry) toolSequence {
	seq := toolSequence{entityTypes: make(map[string]bool)}
	seen := make(map[string]bool)
	for _, call := range entry.ToolCalls {
		if !seen[call.Name] {
			seen[call.Name] = true
			seq.tools = append(seq.tools, call.Name)
		}
		for arg := range call.Args {
			if t, ok := entityTypeFromArg(arg); ok {
				seq.entityTypes[t] = true
			}
		}
	}
	return seq
}

func entityTypeFromArg(arg string) (string, bool) {
	if !strings.HasSuffix(arg, "_id") {
		return "", false
	}
	t := strings.TrimSuffix(arg, "_id")
	if t == "" {
		return "", false
	}
	return t, true
}

// majorityCooccurring returns the tools that follow the anchor in at least
// half of the group's sequences. Majority, not best-of: one lucky
// co-occurrence never makes a pattern.
func majorityCooccurring(anchor string, seqs []toolSequence) []string {
	counts := make(map[string]int)
	for _, seq := range seqs {
		for _, tool := range seq.tools {
			if tool != anchor {
				counts[tool]++
			}
		}
	}

	threshold := float64(len(seqs)) * MajorityFraction
	var actions []string
	for tool, n := range counts {
		if float64(n) >= threshold {
			actions = append(actions, tool)
		}
	}
	sort.Strings(actions)
	return actions
}

// majorityEntityTypes returns entity types present in at least half the
// group's sequences, giving the pattern a stable feature set.
func majorityEntityTypes(seqs []toolSequence) []string {
	counts := make(map[string]int)
	for _, seq := range seqs {
		for t := range seq.entityTypes {
			counts[t]++
		}
	}

	threshold := float64(len(seqs)) * MajorityFraction
	var types []string
	for t, n := range counts {
		if float64(n) >= threshold {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}

func triggerText(anchor string, entityTypes []string) string {
	if len(entityTypes) == 0 {
		return fmt.Sprintf("user request leads to calling %s", anchor)
	}
	return fmt.Sprintf("user request about a %s leads to calling %s", strings.Join(entityTypes, "/"), anchor)
}

func actionText(actions []string) string {
	return fmt.Sprintf("also call %s", strings.Join(actions, ", "))
}
