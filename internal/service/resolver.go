package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/Harshitk-cp/mnemo/internal/store"
	"go.uber.org/zap"
)

const (
	// DefaultFuzzyThreshold is the minimum trigram similarity for a fuzzy
	// match to be accepted.
	DefaultFuzzyThreshold = 0.35
	// CoreferenceConfidence is the fixed confidence assigned to LLM
	// coreference matches; less certain than exact text match by design.
	CoreferenceConfidence = 0.75
	// DefaultRecentEntityLimit caps how many recently mentioned entities
	// are offered as coreference candidates.
	DefaultRecentEntityLimit = 5
)

var pronounMentions = map[string]bool{
	"they": true, "them": true, "their": true,
	"it": true, "its": true,
	"he": true, "him": true, "she": true, "her": true,
	"that one": true, "this one": true,
}

// isPronoun reports whether a mention is a pronoun or demonstrative phrase
// that must be resolved from conversational context.
func isPronoun(mention string) bool {
	m := strings.ToLower(strings.TrimSpace(mention))
	if pronounMentions[m] {
		return true
	}
	return strings.HasPrefix(m, "that ") || strings.HasPrefix(m, "this ")
}

// ResolverService maps free-text mentions to canonical entities through
// ordered stages: alias lookup, fuzzy trigram match, LLM coreference, lazy
// creation from the authoritative store. The first stage to succeed wins.
type ResolverService struct {
	aliasStore  domain.AliasStore
	entityStore domain.EntityStore
	authData    domain.AuthoritativeData
	llmClient   domain.LLMClient
	logger      *zap.Logger

	FuzzyThreshold    float32
	RecentEntityLimit int
}

func NewResolverService(
	as domain.AliasStore,
	es domain.EntityStore,
	ad domain.AuthoritativeData,
	lc domain.LLMClient,
	logger *zap.Logger,
) *ResolverService {
	return &ResolverService{
		aliasStore:        as,
		entityStore:       es,
		authData:          ad,
		llmClient:         lc,
		logger:            logger,
		FuzzyThreshold:    DefaultFuzzyThreshold,
		RecentEntityLimit: DefaultRecentEntityLimit,
	}
}

// Resolve runs the resolution pipeline for one mention. recent holds the
// conversation's recently mentioned entities, most recent first; it is only
// consulted for pronoun mentions. A no-match is a tagged outcome, not an
// error; the error return is reserved for write failures, which must not be
// swallowed.
func (s *ResolverService) Resolve(ctx context.Context, mention, userID string, recent []domain.CoreferenceCandidate) (*domain.Resolution, error) {
	if strings.TrimSpace(mention) == "" {
		return domain.NoMatch(mention, "empty mention"), nil
	}

	// Stage 1: alias lookup, user-scoped before global.
	if res, err := s.resolveAlias(ctx, mention, userID); err != nil {
		return nil, err
	} else if res != nil {
		return res, nil
	}

	// Stage 2: fuzzy trigram match over canonical names and aliases.
	if res, err := s.resolveFuzzy(ctx, mention, userID); err != nil {
		return nil, err
	} else if res != nil {
		return res, nil
	}

	// Stage 3: coreference, pronouns only.
	if isPronoun(mention) {
		if res, err := s.resolveCoreference(ctx, mention, userID, recent); err != nil {
			return nil, err
		} else if res != nil {
			return res, nil
		}
		return domain.NoMatch(mention, "pronoun did not resolve to a recent entity"), nil
	}

	// Stage 4: lazy creation from the authoritative store.
	if res, err := s.resolveLazyCreate(ctx, mention, userID); err != nil {
		return nil, err
	} else if res != nil {
		return res, nil
	}

	return domain.NoMatch(mention, "no entity matched"), nil
}

func (s *ResolverService) resolveAlias(ctx context.Context, mention, userID string) (*domain.Resolution, error) {
	alias, err := s.aliasStore.Find(ctx, mention, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		s.logger.Warn("alias lookup failed", zap.String("mention", mention), zap.Error(err))
		return nil, nil
	}

	entity, err := s.entityStore.GetByID(ctx, alias.CanonicalEntityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("alias points at missing entity",
				zap.Int64("alias_id", alias.ID),
				zap.String("entity_id", alias.CanonicalEntityID))
			return nil, nil
		}
		return nil, nil
	}

	if err := s.aliasStore.IncrementUse(ctx, alias.ID); err != nil {
		return nil, fmt.Errorf("increment alias use: %w", err)
	}

	return &domain.Resolution{
		Outcome:       domain.OutcomeResolved,
		Mention:       mention,
		Entity:        entity,
		CanonicalName: entity.CanonicalName,
		Method:        domain.MethodAlias,
		Confidence:    alias.Confidence,
		Implicit:      isPronoun(mention),
	}, nil
}

func (s *ResolverService) resolveFuzzy(ctx context.Context, mention, userID string) (*domain.Resolution, error) {
	matches, err := s.entityStore.FuzzySearch(ctx, mention, s.FuzzyThreshold)
	if err != nil {
		s.logger.Warn("fuzzy search failed", zap.String("mention", mention), zap.Error(err))
		return nil, nil
	}
	if len(matches) == 0 {
		return nil, nil
	}

	best := matches[0]
	score := clamp01(best.Score)

	// Learned shortcut: next time this user says the same thing, stage 1
	// resolves it directly.
	uid := userID
	alias := &domain.EntityAlias{
		CanonicalEntityID: best.EntityID,
		AliasText:         mention,
		Source:            domain.AliasSourceFuzzy,
		UserID:            &uid,
		Confidence:        score,
		UseCount:          1,
	}
	if err := alias.Validate(); err != nil {
		return nil, err
	}
	if err := s.aliasStore.Create(ctx, alias); err != nil {
		return nil, fmt.Errorf("create fuzzy alias: %w", err)
	}

	s.logger.Debug("fuzzy match accepted",
		zap.String("mention", mention),
		zap.String("entity_id", best.EntityID),
		zap.Float32("score", score))

	entity := best.CanonicalEntity
	return &domain.Resolution{
		Outcome:       domain.OutcomeResolved,
		Mention:       mention,
		Entity:        &entity,
		CanonicalName: entity.CanonicalName,
		Method:        domain.MethodFuzzy,
		Confidence:    score,
		Implicit:      false,
	}, nil
}

func (s *ResolverService) resolveCoreference(ctx context.Context, mention, userID string, recent []domain.CoreferenceCandidate) (*domain.Resolution, error) {
	if s.llmClient == nil || len(recent) == 0 {
		return nil, nil
	}

	candidates := recent
	if len(candidates) > s.RecentEntityLimit {
		candidates = candidates[:s.RecentEntityLimit]
	}

	entityID, err := s.llmClient.ResolveCoreference(ctx, mention, candidates)
	if err != nil {
		s.logger.Warn("coreference call failed", zap.String("mention", mention), zap.Error(err))
		return nil, nil
	}
	if entityID == domain.CoreferenceUnknown {
		return nil, nil
	}

	// The model must pick from the offered set; anything else is treated
	// as a hallucinated id and rejected.
	var picked *domain.CoreferenceCandidate
	for i := range candidates {
		if candidates[i].EntityID == entityID {
			picked = &candidates[i]
			break
		}
	}
	if picked == nil {
		s.logger.Warn("coreference returned id outside candidate set",
			zap.String("mention", mention),
			zap.String("entity_id", entityID))
		return nil, nil
	}

	entity, err := s.entityStore.GetByID(ctx, picked.EntityID)
	if err != nil {
		return nil, nil
	}

	uid := userID
	alias := &domain.EntityAlias{
		CanonicalEntityID: entity.EntityID,
		AliasText:         mention,
		Source:            domain.AliasSourceCoreference,
		UserID:            &uid,
		Confidence:        CoreferenceConfidence,
		UseCount:          1,
	}
	if err := s.aliasStore.Create(ctx, alias); err != nil {
		return nil, fmt.Errorf("create coreference alias: %w", err)
	}

	return &domain.Resolution{
		Outcome:       domain.OutcomeResolved,
		Mention:       mention,
		Entity:        entity,
		CanonicalName: entity.CanonicalName,
		Method:        domain.MethodCoreference,
		Confidence:    CoreferenceConfidence,
		Implicit:      true,
	}, nil
}

func (s *ResolverService) resolveLazyCreate(ctx context.Context, mention, userID string) (*domain.Resolution, error) {
	if s.authData == nil {
		return nil, nil
	}

	record, err := s.authData.FindCustomerByName(ctx, mention)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		s.logger.Warn("authoritative lookup failed", zap.String("mention", mention), zap.Error(err))
		return nil, nil
	}

	entity, err := domain.NewCanonicalEntity(record.EntityType, record.ExternalID, record.Name, record.Ref)
	if err != nil {
		return nil, err
	}
	entity.Properties = record.Properties

	// Idempotent: a concurrent identical resolution converges on the row
	// the first writer created.
	if err := s.entityStore.Create(ctx, entity); err != nil {
		return nil, fmt.Errorf("lazy create entity: %w", err)
	}

	primary := &domain.EntityAlias{
		CanonicalEntityID: entity.EntityID,
		AliasText:         entity.CanonicalName,
		Source:            domain.AliasSourceExact,
		UserID:            nil, // canonical name is a global alias
		Confidence:        1.0,
		UseCount:          1,
	}
	if err := s.aliasStore.Create(ctx, primary); err != nil {
		return nil, fmt.Errorf("create primary alias: %w", err)
	}

	// If the user said something other than the canonical name, remember
	// their phrasing too.
	if !strings.EqualFold(strings.TrimSpace(mention), entity.CanonicalName) {
		uid := userID
		spoken := &domain.EntityAlias{
			CanonicalEntityID: entity.EntityID,
			AliasText:         mention,
			Source:            domain.AliasSourceExact,
			UserID:            &uid,
			Confidence:        1.0,
			UseCount:          1,
		}
		if err := s.aliasStore.Create(ctx, spoken); err != nil {
			return nil, fmt.Errorf("create mention alias: %w", err)
		}
	}

	s.logger.Info("lazily created entity",
		zap.String("entity_id", entity.EntityID),
		zap.String("canonical_name", entity.CanonicalName))

	return &domain.Resolution{
		Outcome:       domain.OutcomeResolved,
		Mention:       mention,
		Entity:        entity,
		CanonicalName: entity.CanonicalName,
		Method:        domain.MethodLazyCreate,
		Confidence:    1.0,
		Implicit:      false,
	}, nil
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
