package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AliasStore persists learned text-to-entity bindings. Create must be
// idempotent on (lower(alias_text), user_id): a concurrent duplicate insert
// converges on the existing row.
type AliasStore interface {
	// Find looks up an alias case-insensitively, preferring a user-scoped
	// alias over a global one with the same text.
	Find(ctx context.Context, text, userID string) (*EntityAlias, error)
	Create(ctx context.Context, a *EntityAlias) error
	IncrementUse(ctx context.Context, id int64) error
}

// EntityMatch pairs an entity with its fuzzy-match similarity score.
type EntityMatch struct {
	CanonicalEntity
	Score float32 `json:"score"`
}

// EntityStore persists canonical entities. Create is idempotent on
// entity_id: a second create of the same external record resolves to the
// existing row.
type EntityStore interface {
	GetByID(ctx context.Context, id string) (*CanonicalEntity, error)
	FindByName(ctx context.Context, name string) (*CanonicalEntity, error)
	// FuzzySearch returns entities whose canonical name or aliases are
	// trigram-similar to text, ordered by score descending.
	FuzzySearch(ctx context.Context, text string, threshold float32) ([]EntityMatch, error)
	Create(ctx context.Context, e *CanonicalEntity) error
	UpdateProperties(ctx context.Context, id string, props map[string]any) error
}

// MemoryStore persists confidence-weighted facts.
type MemoryStore interface {
	GetByID(ctx context.Context, id int64) (*StoredMemory, error)
	// FindByHash returns the retrievable memory with the given source hash,
	// or ErrNotFound.
	FindByHash(ctx context.Context, userID, hash string) (*StoredMemory, error)
	Create(ctx context.Context, m *StoredMemory) error
	// UpdateStatus transitions a memory from one status to another. The
	// update is conditional on the current status so concurrent writers
	// cannot race an illegal transition into the row.
	UpdateStatus(ctx context.Context, id int64, from, to MemoryStatus) error
	// UpdateReinforcement records a reinforcement and revives an aging
	// memory to active in a single conditional write. It fails if the
	// memory is missing or no longer retrievable.
	UpdateReinforcement(ctx context.Context, id int64, confidence float32, count int, validatedAt time.Time) error
	// FindCandidates returns retrievable memories for the user that
	// reference any of the given entities, or all of the user's
	// retrievable memories if entityIDs is empty.
	FindCandidates(ctx context.Context, userID string, entityIDs []string) ([]StoredMemory, error)
	TouchAccess(ctx context.Context, id int64) error
}

// PatternStore persists mined procedural patterns.
type PatternStore interface {
	// FindByFeatures returns the pattern equivalent to the given trigger
	// features (same anchor tool, same entity-type set), or ErrNotFound.
	FindByFeatures(ctx context.Context, userID, anchorTool string, entityTypes []string) (*ProceduralPattern, error)
	Create(ctx context.Context, p *ProceduralPattern) error
	UpdateReinforcement(ctx context.Context, id uuid.UUID, confidence float32, observedCount int) error
	FindSimilar(ctx context.Context, userID string, embedding []float32, limit int) ([]PatternWithScore, error)
}

// UsageLogStore persists per-turn tool-call logs for pattern mining.
type UsageLogStore interface {
	Append(ctx context.Context, e *UsageLogEntry) error
	RecentEntries(ctx context.Context, userID string, since time.Time, limit int) ([]UsageLogEntry, error)
	// ActiveUsers lists users with at least one log entry since the given
	// time; the mining worker iterates over these.
	ActiveUsers(ctx context.Context, since time.Time) ([]string, error)
}

// EmbeddingClient produces vectors for text. Embedding generation is an
// external capability; this service never computes embeddings itself.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ToolDef describes one operation the LLM may request during a tool loop.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCallRequest is the LLM asking the service to invoke a named operation.
type ToolCallRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Completion is one LLM turn: text plus any requested tool calls.
type Completion struct {
	Text      string            `json:"text"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
}

// CoreferenceCandidate is one recently mentioned entity offered to the LLM
// when resolving a pronoun.
type CoreferenceCandidate struct {
	EntityID      string `json:"entity_id"`
	CanonicalName string `json:"canonical_name"`
}

// CoreferenceUnknown is the token the LLM must return when none of the
// offered candidates is the referent.
const CoreferenceUnknown = "unknown"

type LLMClient interface {
	Complete(ctx context.Context, prompt string, tools []ToolDef) (*Completion, error)
	// ResolveCoreference returns one of the offered candidate entity ids or
	// CoreferenceUnknown. Callers must treat any other value as a failure.
	ResolveCoreference(ctx context.Context, mention string, candidates []CoreferenceCandidate) (string, error)
}

// ExternalRecord is an authoritative-store row matched during lazy entity
// creation.
type ExternalRecord struct {
	EntityType string         `json:"entity_type"`
	ExternalID string         `json:"external_id"`
	Name       string         `json:"name"`
	Ref        ExternalRef    `json:"ref"`
	Properties map[string]any `json:"properties,omitempty"`
}

// AuthoritativeData is the read-only capability over the transactional
// database. Each query is independent; no transaction spans multiple calls.
type AuthoritativeData interface {
	FindCustomerByName(ctx context.Context, name string) (*ExternalRecord, error)
	InvoiceStatus(ctx context.Context, customerEntityID string) ([]DomainFact, error)
	OrderChain(ctx context.Context, salesOrderNumber string) ([]DomainFact, error)
	// FactsForEntity is the generic per-entity fan-out query.
	FactsForEntity(ctx context.Context, entityID string) ([]DomainFact, error)
}
