package service

import (
	"context"
	"testing"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/Harshitk-cp/mnemo/internal/embedding"
	"github.com/Harshitk-cp/mnemo/internal/llm"
	"github.com/google/uuid"
)

type queryFixture struct {
	svc         *QueryService
	aliasStore  *mockAliasStore
	entityStore *mockEntityStore
	memStore    *mockMemoryStore
	usageStore  *mockUsageLogStore
	authData    *mockAuthData
	llmClient   *llm.MockClient
}

func setupQueryTest() *queryFixture {
	aliasStore := newMockAliasStore()
	entityStore := newMockEntityStore()
	memStore := newMockMemoryStore()
	patternStore := newMockPatternStore()
	usageStore := newMockUsageLogStore()
	authData := newMockAuthData()
	llmClient := llm.NewMockClient()
	embeddingClient := embedding.NewMockClient()
	logger := testLogger()

	resolver := NewResolverService(aliasStore, entityStore, authData, llmClient, logger)
	lifecycle := NewMemoryLifecycleService(memStore, embeddingClient, logger)
	scorer, _ := NewRetrievalScorer(DefaultScoreWeights())
	miner := NewPatternMinerService(usageStore, patternStore, embeddingClient, logger)

	svc, err := NewQueryService(resolver, lifecycle, scorer, miner,
		authData, llmClient, embeddingClient, usageStore, logger)
	if err != nil {
		panic(err)
	}

	return &queryFixture{
		svc:         svc,
		aliasStore:  aliasStore,
		entityStore: entityStore,
		memStore:    memStore,
		usageStore:  usageStore,
		authData:    authData,
		llmClient:   llmClient,
	}
}

func (f *queryFixture) seedCustomer(externalID, name string) *domain.CanonicalEntity {
	e := seedEntity(f.entityStore, "customer", externalID, name)
	uid := (*string)(nil)
	_ = f.aliasStore.Create(context.Background(), &domain.EntityAlias{
		CanonicalEntityID: e.EntityID,
		AliasText:         name,
		Source:            domain.AliasSourceExact,
		UserID:            uid,
		Confidence:        1.0,
		UseCount:          1,
	})
	return e
}

func queryInput(message string, mentions ...string) QueryInput {
	return QueryInput{
		UserID:         "user-1",
		ConversationID: uuid.New(),
		Message:        message,
		Mentions:       mentions,
	}
}

func TestQuery_AnswersWithFactsAndMemories(t *testing.T) {
	f := setupQueryTest()
	ctx := context.Background()

	entity := f.seedCustomer("42", "Acme Corporation")
	f.authData.facts[entity.EntityID] = []domain.DomainFact{
		{FactType: "invoice_status", EntityID: entity.EntityID, Content: "invoice INV-1: open"},
	}
	f.memStore.memories[1] = &domain.StoredMemory{
		ID: 1, UserID: "user-1", Entities: []string{entity.EntityID},
		Content: "Acme prefers rush shipping", Confidence: 0.8, Importance: 0.5,
		Status: domain.MemoryStatusActive,
	}
	f.memStore.nextID = 1
	f.llmClient.CompleteResponse = &domain.Completion{Text: "Acme has one open invoice."}

	result, err := f.svc.Answer(ctx, queryInput("Any open invoices for Acme?", "Acme Corporation"))
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if result.NoInformation {
		t.Fatal("expected an informed answer")
	}
	if result.Answer != "Acme has one open invoice." {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if len(result.Facts) != 1 {
		t.Fatalf("expected one fact, got %d", len(result.Facts))
	}
	if len(result.Memories) != 1 {
		t.Fatalf("expected one memory, got %d", len(result.Memories))
	}
	if len(f.memStore.touchCalls) != 1 {
		t.Fatal("expected retrieved memory to be touched")
	}
	if len(f.usageStore.entries) != 1 {
		t.Fatal("expected a usage log entry")
	}
}

func TestQuery_NoInformationContract(t *testing.T) {
	f := setupQueryTest()

	result, err := f.svc.Answer(context.Background(), queryInput("Who is Unknown Ventures?", "Unknown Ventures"))
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !result.NoInformation {
		t.Fatal("expected no-information flag with zero facts, memories, and tools")
	}
	if result.Answer != NoInformationAnswer {
		t.Fatalf("expected fixed no-information answer, got %q", result.Answer)
	}
	if len(result.Resolutions) != 1 || result.Resolutions[0].Resolved() {
		t.Fatal("expected an unresolved mention to be reported")
	}
}

func TestQuery_ToolLoopExecutesAndTerminates(t *testing.T) {
	f := setupQueryTest()

	entity := f.seedCustomer("42", "Acme Corporation")
	f.authData.facts[entity.EntityID] = []domain.DomainFact{
		{Content: "invoice INV-1: open"},
	}

	f.llmClient.CompleteResponses = []*domain.Completion{
		{ToolCalls: []domain.ToolCallRequest{
			{ID: "1", Name: "invoice_status", Args: map[string]any{"customer_id": entity.EntityID}},
		}},
		{Text: "Acme has one open invoice."},
	}

	result, err := f.svc.Answer(context.Background(), queryInput("Invoices for Acme?", "Acme Corporation"))
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if result.LoopExhausted {
		t.Fatal("loop terminated normally, must not be flagged exhausted")
	}
	if len(result.ToolsCalled) != 1 {
		t.Fatalf("expected one tool call, got %d", len(result.ToolsCalled))
	}
	if result.Answer != "Acme has one open invoice." {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if len(f.llmClient.CompleteCalls) != 2 {
		t.Fatalf("expected two LLM rounds, got %d", len(f.llmClient.CompleteCalls))
	}
}

func TestQuery_ToolLoopCapped(t *testing.T) {
	f := setupQueryTest()
	f.seedCustomer("42", "Acme Corporation")

	// The model keeps asking for tools forever.
	f.llmClient.CompleteResponse = &domain.Completion{
		ToolCalls: []domain.ToolCallRequest{
			{ID: "1", Name: "order_chain", Args: map[string]any{"order_number": "SO-1"}},
		},
	}

	result, err := f.svc.Answer(context.Background(), queryInput("Chase the order for Acme", "Acme Corporation"))
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !result.LoopExhausted {
		t.Fatal("expected the loop-exhausted flag")
	}
	if len(f.llmClient.CompleteCalls) != MaxToolIterations {
		t.Fatalf("expected exactly %d LLM rounds, got %d", MaxToolIterations, len(f.llmClient.CompleteCalls))
	}
	if result.Answer == "" {
		t.Fatal("expected a degraded answer, not an empty one")
	}
}

func TestQuery_LLMFailureFallsBackToListing(t *testing.T) {
	f := setupQueryTest()

	entity := f.seedCustomer("42", "Acme Corporation")
	f.authData.facts[entity.EntityID] = []domain.DomainFact{
		{Content: "invoice INV-1: open"},
	}
	f.llmClient.CompleteError = context.DeadlineExceeded

	result, err := f.svc.Answer(context.Background(), queryInput("Invoices for Acme?", "Acme Corporation"))
	if err != nil {
		t.Fatalf("LLM failure must degrade, got %v", err)
	}
	if result.NoInformation {
		t.Fatal("facts were available; degraded answer is not no-information")
	}
	if result.Answer == "" || result.Answer == NoInformationAnswer {
		t.Fatalf("expected a fact listing fallback, got %q", result.Answer)
	}
}

func TestQuery_FactFanOutToleratesPartialFailure(t *testing.T) {
	f := setupQueryTest()

	f.seedCustomer("42", "Acme Corporation")
	f.authData.factsErr = context.DeadlineExceeded
	f.llmClient.CompleteResponse = &domain.Completion{Text: "reply"}

	result, err := f.svc.Answer(context.Background(), queryInput("Invoices for Acme?", "Acme Corporation"))
	if err != nil {
		t.Fatalf("fact failure must degrade, got %v", err)
	}
	if len(result.Facts) != 0 {
		t.Fatalf("expected no facts from a failing source, got %d", len(result.Facts))
	}
}

func TestQuery_UsageLogFailureSurfaces(t *testing.T) {
	f := setupQueryTest()
	f.usageStore.appendErr = context.DeadlineExceeded

	result, err := f.svc.Answer(context.Background(), queryInput("anything"))
	if err == nil {
		t.Fatal("expected the strict usage-log write to surface its failure")
	}
	if result == nil {
		t.Fatal("expected the partial result alongside the error")
	}
}

func TestQuery_StatementIsRemembered(t *testing.T) {
	f := setupQueryTest()
	ctx := context.Background()

	entity := f.seedCustomer("42", "Acme Corporation")
	f.llmClient.CompleteResponse = &domain.Completion{Text: "Noted."}

	result, err := f.svc.Answer(ctx, queryInput("Acme Corporation prefers rush shipping", "Acme Corporation"))
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if result.Remembered == nil {
		t.Fatal("expected the stated fact to be recorded")
	}
	if len(f.memStore.memories) != 1 {
		t.Fatalf("expected one stored memory, got %d", len(f.memStore.memories))
	}
	stored := f.memStore.memories[result.Remembered.Memory.ID]
	if !stored.HasEntity(entity.EntityID) {
		t.Fatalf("expected memory linked to resolved entity, got %v", stored.Entities)
	}

	// A question about the same entity carries nothing new to remember.
	result, err = f.svc.Answer(ctx, queryInput("What does Acme prefer?", "Acme Corporation"))
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if result.Remembered != nil {
		t.Fatal("a question must not be recorded as a fact")
	}
	if len(f.memStore.memories) != 1 {
		t.Fatalf("expected still one stored memory, got %d", len(f.memStore.memories))
	}
}

func TestQuery_StatementWithoutEntitiesNotRemembered(t *testing.T) {
	f := setupQueryTest()
	f.llmClient.CompleteResponse = &domain.Completion{Text: "Noted."}

	result, err := f.svc.Answer(context.Background(), queryInput("Rush shipping is usually worth it"))
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if result.Remembered != nil {
		t.Fatal("a statement about no resolved entity must not be recorded")
	}
	if len(f.memStore.memories) != 0 {
		t.Fatalf("expected no stored memories, got %d", len(f.memStore.memories))
	}
}

func TestQuery_MemoryWriteFailureSurfaces(t *testing.T) {
	f := setupQueryTest()
	f.seedCustomer("42", "Acme Corporation")
	f.memStore.createErr = context.DeadlineExceeded
	f.llmClient.CompleteResponse = &domain.Completion{Text: "Noted."}

	result, err := f.svc.Answer(context.Background(),
		queryInput("Acme Corporation prefers rush shipping", "Acme Corporation"))
	if err == nil {
		t.Fatal("expected the strict memory write to surface its failure")
	}
	if result == nil {
		t.Fatal("expected the partial result alongside the error")
	}
}

func TestQuery_ResolvedEntityFeedsLaterPronoun(t *testing.T) {
	f := setupQueryTest()

	entity := f.seedCustomer("42", "Acme Corporation")
	f.llmClient.CoreferenceResponse = entity.EntityID
	f.llmClient.CompleteResponse = &domain.Completion{Text: "reply"}
	f.authData.facts[entity.EntityID] = []domain.DomainFact{{Content: "invoice INV-1: open"}}

	result, err := f.svc.Answer(context.Background(),
		queryInput("What about Acme, and do they owe anything?", "Acme Corporation", "they"))
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(result.Resolutions) != 2 {
		t.Fatalf("expected two resolutions, got %d", len(result.Resolutions))
	}
	if !result.Resolutions[1].Resolved() {
		t.Fatalf("expected pronoun to resolve against the earlier mention: %s", result.Resolutions[1].Reason)
	}
	if result.Resolutions[1].Method != domain.MethodCoreference {
		t.Fatalf("expected coreference, got %s", result.Resolutions[1].Method)
	}
}
