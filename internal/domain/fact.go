package domain

import "time"

// DomainFact is an immutable, fully provenanced snapshot read from the
// authoritative transactional store. Facts are produced fresh per query,
// owned by the request that fetched them, and never persisted by this
// service.
type DomainFact struct {
	FactType    string         `json:"fact_type"`
	EntityID    string         `json:"entity_id"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	SourceTable string         `json:"source_table"`
	SourceRows  []string       `json:"source_rows"`
	RetrievedAt time.Time      `json:"retrieved_at"`
}
