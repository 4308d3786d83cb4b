package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidEntityID    = errors.New("entity_id must start with entity_type followed by underscore")
	ErrEntityTypeEmpty    = errors.New("entity_type is required")
	ErrCanonicalNameEmpty = errors.New("canonical_name is required")
	ErrInvalidConfidence  = errors.New("confidence must be in [0,1]")
	ErrAliasTextEmpty     = errors.New("alias_text is required")
)

// ExternalRef points at the authoritative record a canonical entity mirrors.
type ExternalRef struct {
	SourceTable string `json:"source_table"`
	SourceID    string `json:"source_id"`
}

// CanonicalEntity is the durable internal identity for a real-world business
// object. Equality is defined solely by EntityID.
type CanonicalEntity struct {
	EntityID      string         `json:"entity_id"`
	EntityType    string         `json:"entity_type"`
	CanonicalName string         `json:"canonical_name"`
	ExternalRef   ExternalRef    `json:"external_ref"`
	Properties    map[string]any `json:"properties,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// MakeEntityID builds the canonical id "{entity_type}_{external_id}".
func MakeEntityID(entityType, externalID string) string {
	return fmt.Sprintf("%s_%s", entityType, externalID)
}

func NewCanonicalEntity(entityType, externalID, canonicalName string, ref ExternalRef) (*CanonicalEntity, error) {
	e := &CanonicalEntity{
		EntityID:      MakeEntityID(entityType, externalID),
		EntityType:    entityType,
		CanonicalName: canonicalName,
		ExternalRef:   ref,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *CanonicalEntity) Validate() error {
	if e.EntityType == "" {
		return ErrEntityTypeEmpty
	}
	if e.CanonicalName == "" {
		return ErrCanonicalNameEmpty
	}
	if !strings.HasPrefix(e.EntityID, e.EntityType+"_") {
		return ErrInvalidEntityID
	}
	return nil
}

// MergeProperties overlays the given properties onto the cached snapshot.
func (e *CanonicalEntity) MergeProperties(props map[string]any) {
	if e.Properties == nil {
		e.Properties = make(map[string]any, len(props))
	}
	for k, v := range props {
		e.Properties[k] = v
	}
	e.UpdatedAt = time.Now()
}

type AliasSource string

const (
	AliasSourceExact       AliasSource = "exact"
	AliasSourceFuzzy       AliasSource = "fuzzy"
	AliasSourceCoreference AliasSource = "coreference"
	AliasSourceManual      AliasSource = "manual"
)

func ValidAliasSource(s string) bool {
	switch AliasSource(s) {
	case AliasSourceExact, AliasSourceFuzzy, AliasSourceCoreference, AliasSourceManual:
		return true
	}
	return false
}

// EntityAlias is a learned or declared text-to-entity binding. At most one
// alias exists per (lower(alias_text), user_id); a nil UserID means the alias
// is global, and user-scoped aliases shadow global ones with the same text.
type EntityAlias struct {
	ID                int64       `json:"id"`
	CanonicalEntityID string      `json:"canonical_entity_id"`
	AliasText         string      `json:"alias_text"`
	Source            AliasSource `json:"alias_source"`
	UserID            *string     `json:"user_id,omitempty"`
	Confidence        float32     `json:"confidence"`
	UseCount          int         `json:"use_count"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

func (a *EntityAlias) Validate() error {
	if strings.TrimSpace(a.AliasText) == "" {
		return ErrAliasTextEmpty
	}
	if a.CanonicalEntityID == "" {
		return ErrInvalidEntityID
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if !ValidAliasSource(string(a.Source)) {
		return fmt.Errorf("invalid alias_source: %s", a.Source)
	}
	return nil
}
