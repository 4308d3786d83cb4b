package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MaxToolIterations caps the LLM tool loop. Once the cap is reached the
	// loop terminates with whatever it has accumulated.
	MaxToolIterations = 5
	// DefaultMemoryLimit is how many ranked memories feed the answer.
	DefaultMemoryLimit = 5
	// DefaultPatternLimit is how many mined patterns augment the prompt.
	DefaultPatternLimit = 3
	// CapabilityTimeout wraps each LLM and embedding call.
	CapabilityTimeout = 15 * time.Second
	// NoInformationAnswer is the fixed reply when neither the authoritative
	// store nor memory produced anything. The service says it has no
	// information rather than fabricate an answer.
	NoInformationAnswer = "I have no information about that."
)

// QueryService orchestrates one conversational query: entity resolution,
// concurrent authoritative fact fan-out, memory retrieval and scoring,
// pattern augmentation, and a bounded LLM tool loop.
type QueryService struct {
	resolver        *ResolverService
	lifecycle       *MemoryLifecycleService
	scorer          *RetrievalScorer
	miner           *PatternMinerService
	authData        domain.AuthoritativeData
	llmClient       domain.LLMClient
	embeddingClient domain.EmbeddingClient
	usageLogStore   domain.UsageLogStore
	toolset         *Toolset
	logger          *zap.Logger

	MemoryLimit  int
	PatternLimit int
}

func NewQueryService(
	resolver *ResolverService,
	lifecycle *MemoryLifecycleService,
	scorer *RetrievalScorer,
	miner *PatternMinerService,
	authData domain.AuthoritativeData,
	llmClient domain.LLMClient,
	embeddingClient domain.EmbeddingClient,
	usageLogStore domain.UsageLogStore,
	logger *zap.Logger,
) (*QueryService, error) {
	toolset, err := buildToolset(authData)
	if err != nil {
		return nil, err
	}
	return &QueryService{
		resolver:        resolver,
		lifecycle:       lifecycle,
		scorer:          scorer,
		miner:           miner,
		authData:        authData,
		llmClient:       llmClient,
		embeddingClient: embeddingClient,
		usageLogStore:   usageLogStore,
		toolset:         toolset,
		logger:          logger,
		MemoryLimit:     DefaultMemoryLimit,
		PatternLimit:    DefaultPatternLimit,
	}, nil
}

type QueryInput struct {
	UserID         string
	ConversationID uuid.UUID
	Message        string
	// Mentions are the entity mentions the caller extracted from the
	// message, in order of appearance.
	Mentions []string
	// Recent holds the conversation's recently mentioned entities, most
	// recent first, for pronoun resolution.
	Recent []domain.CoreferenceCandidate
}

type QueryResult struct {
	Answer        string                    `json:"answer"`
	NoInformation bool                      `json:"no_information"`
	LoopExhausted bool                      `json:"loop_exhausted"`
	Resolutions   []domain.Resolution       `json:"resolutions"`
	Facts         []domain.DomainFact       `json:"facts"`
	Memories      []ScoredMemory            `json:"memories"`
	Patterns      []domain.PatternWithScore `json:"patterns,omitempty"`
	ToolsCalled   []domain.ToolCall         `json:"tools_called,omitempty"`
	Remembered    *RememberResult           `json:"remembered,omitempty"`
}

// Answer runs the full per-query pipeline. Query-time capability failures
// degrade to missing context; the post-hoc writes at the end, the stated
// fact and the usage log, are strict and surface as the returned error.
func (s *QueryService) Answer(ctx context.Context, input QueryInput) (*QueryResult, error) {
	result := &QueryResult{}

	// Resolution runs strictly in mention order; later pronouns may depend
	// on earlier matches.
	recent := input.Recent
	var entityIDs []string
	for _, mention := range input.Mentions {
		res, err := s.resolver.Resolve(ctx, mention, input.UserID, recent)
		if err != nil {
			return nil, err
		}
		result.Resolutions = append(result.Resolutions, *res)
		if res.Resolved() {
			entityIDs = append(entityIDs, res.Entity.EntityID)
			recent = append([]domain.CoreferenceCandidate{{
				EntityID:      res.Entity.EntityID,
				CanonicalName: res.Entity.CanonicalName,
			}}, recent...)
		}
	}

	result.Facts = s.fetchFacts(ctx, entityIDs)

	queryEmbedding := s.embedQuery(ctx, input.Message)

	candidates, err := s.lifecycle.Candidates(ctx, input.UserID, entityIDs)
	if err != nil {
		s.logger.Warn("memory retrieval unavailable", zap.Error(err))
	} else {
		q := RetrievalQuery{Embedding: queryEmbedding, EntityIDs: entityIDs}
		result.Memories = s.scorer.ScoreAndRank(q, candidates, time.Now(), s.MemoryLimit)
		for _, m := range result.Memories {
			if err := s.lifecycle.Touch(ctx, m.ID); err != nil {
				s.logger.Warn("touch failed", zap.Int64("memory_id", m.ID), zap.Error(err))
			}
		}
	}

	if len(queryEmbedding) > 0 {
		result.Patterns = s.miner.Augment(ctx, input.UserID, queryEmbedding, s.PatternLimit, 0)
	}

	s.runToolLoop(ctx, input, result)

	if len(result.Facts) == 0 && len(result.Memories) == 0 && len(result.ToolsCalled) == 0 {
		result.NoInformation = true
		result.Answer = NoInformationAnswer
	}

	// A declarative message about resolved entities is a fact worth keeping.
	if len(entityIDs) > 0 && isStatement(input.Message) {
		remembered, err := s.lifecycle.Remember(ctx, RememberInput{
			UserID:   input.UserID,
			Content:  strings.TrimSpace(input.Message),
			Entities: entityIDs,
		})
		if err != nil {
			return result, fmt.Errorf("record stated fact: %w", err)
		}
		result.Remembered = remembered
	}

	entry := &domain.UsageLogEntry{
		UserID:         input.UserID,
		ConversationID: input.ConversationID,
		ToolCalls:      result.ToolsCalled,
	}
	if err := s.usageLogStore.Append(ctx, entry); err != nil {
		return result, fmt.Errorf("append usage log: %w", err)
	}

	return result, nil
}

// fetchFacts fans out one authoritative query per entity and waits for all
// of them. A failed or timed-out source contributes nothing; it does not
// fail the others.
func (s *QueryService) fetchFacts(ctx context.Context, entityIDs []string) []domain.DomainFact {
	if len(entityIDs) == 0 {
		return nil
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		facts []domain.DomainFact
	)
	for _, entityID := range entityIDs {
		wg.Add(1)
		go func(entityID string) {
			defer wg.Done()
			entityFacts, err := s.authData.FactsForEntity(ctx, entityID)
			if err != nil {
				s.logger.Warn("fact fetch failed",
					zap.String("entity_id", entityID),
					zap.Error(err))
				return
			}
			mu.Lock()
			facts = append(facts, entityFacts...)
			mu.Unlock()
		}(entityID)
	}
	wg.Wait()
	return facts
}

func (s *QueryService) embedQuery(ctx context.Context, message string) []float32 {
	if s.embeddingClient == nil {
		return nil
	}
	embedCtx, cancel := context.WithTimeout(ctx, CapabilityTimeout)
	defer cancel()

	emb, err := s.embeddingClient.Embed(embedCtx, message)
	if err != nil {
		s.logger.Warn("query embedding failed", zap.Error(err))
		return nil
	}
	return emb
}

// runToolLoop drives the bounded, strictly sequential LLM iteration: each
// round may request tool calls, which execute concurrently before their
// results feed the next round. The loop is cancellable between iterations,
// never mid-iteration.
func (s *QueryService) runToolLoop(ctx context.Context, input QueryInput, result *QueryResult) {
	if s.llmClient == nil {
		result.Answer = s.fallbackAnswer(result)
		return
	}

	prompt := s.buildPrompt(input, result)

	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		if ctx.Err() != nil {
			s.logger.Info("tool loop cancelled", zap.Int("iteration", iteration))
			result.Answer = s.fallbackAnswer(result)
			return
		}

		llmCtx, cancel := context.WithTimeout(ctx, CapabilityTimeout)
		completion, err := s.llmClient.Complete(llmCtx, prompt, s.toolset.Defs())
		cancel()
		if err != nil {
			s.logger.Warn("completion failed", zap.Int("iteration", iteration), zap.Error(err))
			result.Answer = s.fallbackAnswer(result)
			return
		}

		if len(completion.ToolCalls) == 0 {
			result.Answer = completion.Text
			return
		}

		toolResults := s.toolset.ExecuteAll(ctx, completion.ToolCalls)
		var sb strings.Builder
		sb.WriteString(prompt)
		sb.WriteString("\n\nTool results:\n")
		for i, call := range completion.ToolCalls {
			result.ToolsCalled = append(result.ToolsCalled, domain.ToolCall{Name: call.Name, Args: call.Args})
			r := toolResults[i]
			if r.Err != "" {
				fmt.Fprintf(&sb, "%s: error: %s\n", r.Name, r.Err)
			} else {
				fmt.Fprintf(&sb, "%s:\n%s\n", r.Name, r.Output)
			}
		}
		sb.WriteString("\nAnswer the user's question using the data above.")
		prompt = sb.String()
	}

	s.logger.Info("tool loop cap reached",
		zap.String("user_id", input.UserID),
		zap.Int("max_iterations", MaxToolIterations))
	result.LoopExhausted = true
	result.Answer = s.fallbackAnswer(result)
}

func (s *QueryService) buildPrompt(input QueryInput, result *QueryResult) string {
	var sb strings.Builder
	sb.WriteString("You are a business assistant answering from verified data and remembered context.\n")
	sb.WriteString("If the data below does not answer the question, say you have no information; never invent records.\n")

	if len(result.Resolutions) > 0 {
		sb.WriteString("\nResolved entities:\n")
		for _, r := range result.Resolutions {
			if r.Resolved() {
				fmt.Fprintf(&sb, "- %q is %s (%s, via %s)\n", r.Mention, r.CanonicalName, r.Entity.EntityID, r.Method)
			} else {
				fmt.Fprintf(&sb, "- %q could not be resolved (%s)\n", r.Mention, r.Reason)
			}
		}
	}

	if len(result.Facts) > 0 {
		sb.WriteString("\nVerified records:\n")
		for _, f := range result.Facts {
			fmt.Fprintf(&sb, "- %s\n", f.Content)
		}
	}

	if len(result.Memories) > 0 {
		sb.WriteString("\nRemembered context (confidence-weighted, may be stale):\n")
		for _, m := range result.Memories {
			flag := ""
			if m.Status == domain.MemoryStatusAging {
				flag = " [unconfirmed for a while]"
			}
			fmt.Fprintf(&sb, "- %s (confidence %.2f)%s\n", m.Content, m.Confidence, flag)
		}
	}

	if len(result.Patterns) > 0 {
		sb.WriteString("\nLikely useful follow-ups for this kind of question:\n")
		for _, p := range result.Patterns {
			fmt.Fprintf(&sb, "- %s\n", p.ActionHeuristic)
		}
	}

	fmt.Fprintf(&sb, "\nUser question: %s\n", input.Message)
	return sb.String()
}

// questionLeads are openers that mark a message as a question or a
// retrieval request rather than a stated fact.
var questionLeads = map[string]bool{
	"who": true, "what": true, "when": true, "where": true, "why": true,
	"how": true, "which": true, "is": true, "are": true, "was": true,
	"were": true, "do": true, "does": true, "did": true, "can": true,
	"could": true, "will": true, "would": true, "should": true,
	"show": true, "list": true, "tell": true, "give": true, "find": true,
	"get": true, "any": true,
}

// isStatement reports whether the message reads as a declarative statement.
// Questions and retrieval requests carry nothing new to remember.
func isStatement(message string) bool {
	msg := strings.TrimSpace(message)
	if msg == "" || strings.HasSuffix(msg, "?") {
		return false
	}
	first := strings.ToLower(strings.Trim(strings.Fields(msg)[0], ".,!:;"))
	return !questionLeads[first]
}

// fallbackAnswer synthesizes a plain listing when the LLM is unavailable
// or the loop was cut short: degraded quality, never a fabricated answer.
func (s *QueryService) fallbackAnswer(result *QueryResult) string {
	if len(result.Facts) == 0 && len(result.Memories) == 0 {
		return NoInformationAnswer
	}
	var sb strings.Builder
	sb.WriteString("Here is what I found:\n")
	for _, f := range result.Facts {
		fmt.Fprintf(&sb, "- %s\n", f.Content)
	}
	for _, m := range result.Memories {
		fmt.Fprintf(&sb, "- (remembered) %s\n", m.Content)
	}
	return sb.String()
}
