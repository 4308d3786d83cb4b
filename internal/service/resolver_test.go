package service

import (
	"context"
	"testing"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/Harshitk-cp/mnemo/internal/llm"
)

func setupResolverTest() (*ResolverService, *mockAliasStore, *mockEntityStore, *mockAuthData, *llm.MockClient) {
	aliasStore := newMockAliasStore()
	entityStore := newMockEntityStore()
	authData := newMockAuthData()
	llmClient := llm.NewMockClient()
	svc := NewResolverService(aliasStore, entityStore, authData, llmClient, testLogger())
	return svc, aliasStore, entityStore, authData, llmClient
}

func seedEntity(es *mockEntityStore, entityType, externalID, name string) *domain.CanonicalEntity {
	e, _ := domain.NewCanonicalEntity(entityType, externalID, name, domain.ExternalRef{
		SourceTable: entityType + "s",
		SourceID:    externalID,
	})
	es.entities[e.EntityID] = e
	return e
}

func TestResolver_AliasHit(t *testing.T) {
	svc, aliasStore, entityStore, _, _ := setupResolverTest()
	ctx := context.Background()

	entity := seedEntity(entityStore, "customer", "42", "Acme Corporation")
	uid := "user-1"
	alias := &domain.EntityAlias{
		CanonicalEntityID: entity.EntityID,
		AliasText:         "acme",
		Source:            domain.AliasSourceManual,
		UserID:            &uid,
		Confidence:        1.0,
		UseCount:          3,
	}
	_ = aliasStore.Create(ctx, alias)

	res, err := svc.Resolve(ctx, "Acme", "user-1", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Resolved() {
		t.Fatalf("expected resolution, got no_match: %s", res.Reason)
	}
	if res.Method != domain.MethodAlias {
		t.Fatalf("expected method alias, got %s", res.Method)
	}
	if res.Entity.EntityID != entity.EntityID {
		t.Fatalf("resolved to wrong entity %s", res.Entity.EntityID)
	}
	if len(aliasStore.incrementCalls) != 1 {
		t.Fatal("expected alias use count to be incremented")
	}
}

func TestResolver_FuzzyMatchLearnsAlias(t *testing.T) {
	svc, _, entityStore, _, _ := setupResolverTest()
	ctx := context.Background()

	entity := seedEntity(entityStore, "customer", "42", "Acme Corporation")
	entityStore.fuzzyMatches = []domain.EntityMatch{{CanonicalEntity: *entity, Score: 0.72}}

	res, err := svc.Resolve(ctx, "Acme Corp", "user-1", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Method != domain.MethodFuzzy {
		t.Fatalf("expected method fuzzy, got %s", res.Method)
	}
	if res.Confidence != 0.72 {
		t.Fatalf("expected fuzzy score as confidence, got %f", res.Confidence)
	}

	// The fuzzy match must have been written back as a user-scoped alias so
	// the next resolution of the same text short-circuits at stage 1.
	entityStore.fuzzyMatches = nil
	res2, err := svc.Resolve(ctx, "Acme Corp", "user-1", nil)
	if err != nil {
		t.Fatalf("expected no error on second resolve, got %v", err)
	}
	if res2.Method != domain.MethodAlias {
		t.Fatalf("expected learned alias on repeat, got %s", res2.Method)
	}
	if res2.Entity.EntityID != entity.EntityID {
		t.Fatal("repeat resolution converged on a different entity")
	}
}

func TestResolver_FuzzyAliasWriteFailurePropagates(t *testing.T) {
	svc, aliasStore, entityStore, _, _ := setupResolverTest()

	entity := seedEntity(entityStore, "customer", "42", "Acme Corporation")
	entityStore.fuzzyMatches = []domain.EntityMatch{{CanonicalEntity: *entity, Score: 0.7}}
	aliasStore.createErr = context.DeadlineExceeded

	_, err := svc.Resolve(context.Background(), "Acme Corp", "user-1", nil)
	if err == nil {
		t.Fatal("expected alias write failure to propagate")
	}
}

func TestResolver_CoreferenceResolvesPronoun(t *testing.T) {
	svc, _, entityStore, _, llmClient := setupResolverTest()
	ctx := context.Background()

	entity := seedEntity(entityStore, "customer", "42", "Acme Corporation")
	llmClient.CoreferenceResponse = entity.EntityID

	recent := []domain.CoreferenceCandidate{
		{EntityID: entity.EntityID, CanonicalName: entity.CanonicalName},
	}
	res, err := svc.Resolve(ctx, "they", "user-1", recent)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Method != domain.MethodCoreference {
		t.Fatalf("expected method coreference, got %s", res.Method)
	}
	if !res.Implicit {
		t.Fatal("expected coreference resolution to be marked implicit")
	}
	if res.Confidence != CoreferenceConfidence {
		t.Fatalf("expected fixed coreference confidence, got %f", res.Confidence)
	}
}

func TestResolver_CoreferenceRejectsHallucinatedID(t *testing.T) {
	svc, _, entityStore, _, llmClient := setupResolverTest()

	entity := seedEntity(entityStore, "customer", "42", "Acme Corporation")
	// The model returns an id that was never offered.
	llmClient.CoreferenceResponse = "customer_999"

	recent := []domain.CoreferenceCandidate{
		{EntityID: entity.EntityID, CanonicalName: entity.CanonicalName},
	}
	res, err := svc.Resolve(context.Background(), "they", "user-1", recent)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Resolved() {
		t.Fatal("expected hallucinated id to be rejected")
	}
}

func TestResolver_PronounNeverLazyCreates(t *testing.T) {
	svc, _, _, authData, llmClient := setupResolverTest()
	llmClient.CoreferenceResponse = domain.CoreferenceUnknown
	authData.customers["they"] = &domain.ExternalRecord{
		EntityType: "customer", ExternalID: "7", Name: "They Inc",
	}

	res, err := svc.Resolve(context.Background(), "they", "user-1", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Resolved() {
		t.Fatal("expected pronoun to stop at coreference, not fall through to lazy create")
	}
}

func TestResolver_LazyCreateFromAuthoritativeStore(t *testing.T) {
	svc, aliasStore, entityStore, authData, _ := setupResolverTest()
	ctx := context.Background()

	authData.customers["globex"] = &domain.ExternalRecord{
		EntityType: "customer",
		ExternalID: "77",
		Name:       "Globex GmbH",
		Ref:        domain.ExternalRef{SourceTable: "customers", SourceID: "77"},
		Properties: map[string]any{"city": "Berlin"},
	}

	res, err := svc.Resolve(ctx, "Globex", "user-1", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Method != domain.MethodLazyCreate {
		t.Fatalf("expected method lazy_create, got %s", res.Method)
	}
	if res.Entity.EntityID != "customer_77" {
		t.Fatalf("unexpected entity id %s", res.Entity.EntityID)
	}
	if _, ok := entityStore.entities["customer_77"]; !ok {
		t.Fatal("expected entity to be persisted")
	}

	// Canonical name becomes a global alias, the user's phrasing a scoped one.
	if _, err := aliasStore.Find(ctx, "Globex GmbH", "someone-else"); err != nil {
		t.Fatal("expected global alias for canonical name")
	}
	if _, err := aliasStore.Find(ctx, "Globex", "user-1"); err != nil {
		t.Fatal("expected user-scoped alias for spoken mention")
	}
}

func TestResolver_LazyCreateIsIdempotent(t *testing.T) {
	svc, _, entityStore, authData, _ := setupResolverTest()
	ctx := context.Background()

	authData.customers["globex"] = &domain.ExternalRecord{
		EntityType: "customer", ExternalID: "77", Name: "Globex GmbH",
		Ref: domain.ExternalRef{SourceTable: "customers", SourceID: "77"},
	}

	res1, err := svc.Resolve(ctx, "Globex", "user-1", nil)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	res2, err := svc.Resolve(ctx, "Globex", "user-2", nil)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if res1.Entity.EntityID != res2.Entity.EntityID {
		t.Fatal("expected both resolutions to converge on the same entity")
	}
	if len(entityStore.entities) != 1 {
		t.Fatalf("expected one entity, got %d", len(entityStore.entities))
	}
}

func TestResolver_NoMatchIsTaggedOutcome(t *testing.T) {
	svc, _, _, _, _ := setupResolverTest()

	res, err := svc.Resolve(context.Background(), "Unknown Ventures", "user-1", nil)
	if err != nil {
		t.Fatalf("expected no error for a plain miss, got %v", err)
	}
	if res.Outcome != domain.OutcomeNoMatch {
		t.Fatalf("expected no_match outcome, got %s", res.Outcome)
	}
	if res.Reason == "" {
		t.Fatal("expected no_match to carry a reason")
	}
}

func TestResolver_ReadFailureFallsThroughToNextStage(t *testing.T) {
	svc, aliasStore, _, authData, _ := setupResolverTest()
	aliasStore.findErr = context.DeadlineExceeded

	authData.customers["globex"] = &domain.ExternalRecord{
		EntityType: "customer", ExternalID: "77", Name: "Globex GmbH",
		Ref: domain.ExternalRef{SourceTable: "customers", SourceID: "77"},
	}
	// Creates still need a working alias store.
	aliasStore.createErr = nil

	res, err := svc.Resolve(context.Background(), "Globex", "user-1", nil)
	if err != nil {
		t.Fatalf("expected read failure to degrade, got %v", err)
	}
	if res.Method != domain.MethodLazyCreate {
		t.Fatalf("expected later stage to still run, got %s", res.Method)
	}
}
