package service

import (
	"context"
	"strings"
	"time"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/Harshitk-cp/mnemo/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// mockAliasStore implements domain.AliasStore for testing.
type mockAliasStore struct {
	aliases map[string]*domain.EntityAlias
	nextID  int64

	findErr      error
	createErr    error
	incrementErr error

	createCalls    []*domain.EntityAlias
	incrementCalls []int64
}

func newMockAliasStore() *mockAliasStore {
	return &mockAliasStore{aliases: make(map[string]*domain.EntityAlias)}
}

func aliasKey(text string, userID *string) string {
	uid := ""
	if userID != nil {
		uid = *userID
	}
	return strings.ToLower(text) + "|" + uid
}

func (m *mockAliasStore) Find(ctx context.Context, text, userID string) (*domain.EntityAlias, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if a, ok := m.aliases[aliasKey(text, &userID)]; ok {
		return a, nil
	}
	if a, ok := m.aliases[aliasKey(text, nil)]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockAliasStore) Create(ctx context.Context, a *domain.EntityAlias) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.createCalls = append(m.createCalls, a)
	key := aliasKey(a.AliasText, a.UserID)
	if existing, ok := m.aliases[key]; ok {
		*a = *existing
		return nil
	}
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.aliases[key] = a
	return nil
}

func (m *mockAliasStore) IncrementUse(ctx context.Context, id int64) error {
	if m.incrementErr != nil {
		return m.incrementErr
	}
	m.incrementCalls = append(m.incrementCalls, id)
	for _, a := range m.aliases {
		if a.ID == id {
			a.UseCount++
			return nil
		}
	}
	return store.ErrNotFound
}

// mockEntityStore implements domain.EntityStore for testing.
type mockEntityStore struct {
	entities     map[string]*domain.CanonicalEntity
	fuzzyMatches []domain.EntityMatch

	fuzzyErr  error
	createErr error
}

func newMockEntityStore() *mockEntityStore {
	return &mockEntityStore{entities: make(map[string]*domain.CanonicalEntity)}
}

func (m *mockEntityStore) GetByID(ctx context.Context, id string) (*domain.CanonicalEntity, error) {
	e, ok := m.entities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e, nil
}

func (m *mockEntityStore) FindByName(ctx context.Context, name string) (*domain.CanonicalEntity, error) {
	for _, e := range m.entities {
		if strings.EqualFold(e.CanonicalName, name) {
			return e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockEntityStore) FuzzySearch(ctx context.Context, text string, threshold float32) ([]domain.EntityMatch, error) {
	if m.fuzzyErr != nil {
		return nil, m.fuzzyErr
	}
	return m.fuzzyMatches, nil
}

func (m *mockEntityStore) Create(ctx context.Context, e *domain.CanonicalEntity) error {
	if m.createErr != nil {
		return m.createErr
	}
	if existing, ok := m.entities[e.EntityID]; ok {
		*e = *existing
		return nil
	}
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	m.entities[e.EntityID] = e
	return nil
}

func (m *mockEntityStore) UpdateProperties(ctx context.Context, id string, props map[string]any) error {
	e, ok := m.entities[id]
	if !ok {
		return store.ErrNotFound
	}
	e.MergeProperties(props)
	return nil
}

// mockMemoryStore implements domain.MemoryStore for testing.
type mockMemoryStore struct {
	memories map[int64]*domain.StoredMemory
	nextID   int64

	createErr     error
	statusErr     error
	reinforceErr  error
	candidatesErr error

	touchCalls []int64
}

func newMockMemoryStore() *mockMemoryStore {
	return &mockMemoryStore{memories: make(map[int64]*domain.StoredMemory)}
}

func (m *mockMemoryStore) GetByID(ctx context.Context, id int64) (*domain.StoredMemory, error) {
	mem, ok := m.memories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return mem, nil
}

func (m *mockMemoryStore) FindByHash(ctx context.Context, userID, hash string) (*domain.StoredMemory, error) {
	for _, mem := range m.memories {
		if mem.UserID == userID && mem.SourceHash == hash && mem.Status.Retrievable() {
			return mem, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockMemoryStore) Create(ctx context.Context, mem *domain.StoredMemory) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	mem.ID = m.nextID
	mem.CreatedAt = time.Now()
	mem.LastAccessedAt = mem.CreatedAt
	m.memories[mem.ID] = mem
	return nil
}

func (m *mockMemoryStore) UpdateStatus(ctx context.Context, id int64, from, to domain.MemoryStatus) error {
	if m.statusErr != nil {
		return m.statusErr
	}
	if !from.CanTransition(to) {
		return domain.ErrInvalidTransition
	}
	mem, ok := m.memories[id]
	if !ok || mem.Status != from {
		return store.ErrConflict
	}
	mem.Status = to
	return nil
}

func (m *mockMemoryStore) UpdateReinforcement(ctx context.Context, id int64, confidence float32, count int, validatedAt time.Time) error {
	if m.reinforceErr != nil {
		return m.reinforceErr
	}
	mem, ok := m.memories[id]
	if !ok || !mem.Status.Retrievable() {
		return store.ErrConflict
	}
	mem.Status = domain.MemoryStatusActive
	mem.Confidence = confidence
	mem.ReinforcementCount = count
	mem.LastValidatedAt = &validatedAt
	return nil
}

func (m *mockMemoryStore) FindCandidates(ctx context.Context, userID string, entityIDs []string) ([]domain.StoredMemory, error) {
	if m.candidatesErr != nil {
		return nil, m.candidatesErr
	}
	var out []domain.StoredMemory
	for _, mem := range m.memories {
		if mem.UserID != userID || !mem.Status.Retrievable() {
			continue
		}
		if len(entityIDs) > 0 {
			match := false
			for _, id := range entityIDs {
				if mem.HasEntity(id) {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *mem)
	}
	return out, nil
}

func (m *mockMemoryStore) TouchAccess(ctx context.Context, id int64) error {
	mem, ok := m.memories[id]
	if !ok {
		return store.ErrNotFound
	}
	m.touchCalls = append(m.touchCalls, id)
	mem.LastAccessedAt = time.Now()
	return nil
}

// mockPatternStore implements domain.PatternStore for testing.
type mockPatternStore struct {
	patterns map[string]*domain.ProceduralPattern
	similar  []domain.PatternWithScore

	similarErr error
	createErr  error
}

func newMockPatternStore() *mockPatternStore {
	return &mockPatternStore{patterns: make(map[string]*domain.ProceduralPattern)}
}

func patternKey(userID, anchor string, entityTypes []string) string {
	f := domain.TriggerFeatures{AnchorTool: anchor, EntityTypes: entityTypes}
	return userID + "|" + f.FeatureKey()
}

func (m *mockPatternStore) FindByFeatures(ctx context.Context, userID, anchorTool string, entityTypes []string) (*domain.ProceduralPattern, error) {
	p, ok := m.patterns[patternKey(userID, anchorTool, entityTypes)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *mockPatternStore) Create(ctx context.Context, p *domain.ProceduralPattern) error {
	if m.createErr != nil {
		return m.createErr
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.patterns[patternKey(p.UserID, p.TriggerFeatures.AnchorTool, p.TriggerFeatures.EntityTypes)] = p
	return nil
}

func (m *mockPatternStore) UpdateReinforcement(ctx context.Context, id uuid.UUID, confidence float32, observedCount int) error {
	for _, p := range m.patterns {
		if p.ID == id {
			p.Confidence = confidence
			p.ObservedCount = observedCount
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *mockPatternStore) FindSimilar(ctx context.Context, userID string, embedding []float32, limit int) ([]domain.PatternWithScore, error) {
	if m.similarErr != nil {
		return nil, m.similarErr
	}
	if len(m.similar) > limit {
		return m.similar[:limit], nil
	}
	return m.similar, nil
}

// mockUsageLogStore implements domain.UsageLogStore for testing.
type mockUsageLogStore struct {
	entries []domain.UsageLogEntry

	appendErr error
}

func newMockUsageLogStore() *mockUsageLogStore {
	return &mockUsageLogStore{}
}

func (m *mockUsageLogStore) Append(ctx context.Context, e *domain.UsageLogEntry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockUsageLogStore) RecentEntries(ctx context.Context, userID string, since time.Time, limit int) ([]domain.UsageLogEntry, error) {
	var out []domain.UsageLogEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *mockUsageLogStore) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	seen := make(map[string]bool)
	var users []string
	for _, e := range m.entries {
		if !seen[e.UserID] {
			seen[e.UserID] = true
			users = append(users, e.UserID)
		}
	}
	return users, nil
}

// mockAuthData implements domain.AuthoritativeData for testing.
type mockAuthData struct {
	customers map[string]*domain.ExternalRecord
	facts     map[string][]domain.DomainFact

	factsErr  error
	lookupErr error
}

func newMockAuthData() *mockAuthData {
	return &mockAuthData{
		customers: make(map[string]*domain.ExternalRecord),
		facts:     make(map[string][]domain.DomainFact),
	}
}

func (m *mockAuthData) FindCustomerByName(ctx context.Context, name string) (*domain.ExternalRecord, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	r, ok := m.customers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (m *mockAuthData) InvoiceStatus(ctx context.Context, customerEntityID string) ([]domain.DomainFact, error) {
	if m.factsErr != nil {
		return nil, m.factsErr
	}
	return m.facts[customerEntityID], nil
}

func (m *mockAuthData) OrderChain(ctx context.Context, salesOrderNumber string) ([]domain.DomainFact, error) {
	if m.factsErr != nil {
		return nil, m.factsErr
	}
	return m.facts[salesOrderNumber], nil
}

func (m *mockAuthData) FactsForEntity(ctx context.Context, entityID string) ([]domain.DomainFact, error) {
	if m.factsErr != nil {
		return nil, m.factsErr
	}
	return m.facts[entityID], nil
}
