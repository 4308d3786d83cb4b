package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrMemoryContentEmpty = errors.New("content is required")
	ErrMemoryUserIDEmpty  = errors.New("user_id is required")
	ErrInvalidImportance  = errors.New("importance must be in [0,1]")
	ErrInvalidTransition  = errors.New("illegal memory status transition")
)

type MemoryStatus string

const (
	MemoryStatusActive      MemoryStatus = "active"
	MemoryStatusAging       MemoryStatus = "aging"
	MemoryStatusSuperseded  MemoryStatus = "superseded"
	MemoryStatusInvalidated MemoryStatus = "invalidated"
)

// CanTransition reports whether moving from s to next is legal.
// Legal moves: active and aging flip both ways, either may become
// superseded, and anything not yet invalidated may become invalidated.
// invalidated is terminal.
func (s MemoryStatus) CanTransition(next MemoryStatus) bool {
	if s == next {
		return false
	}
	if s == MemoryStatusInvalidated {
		return false
	}
	if next == MemoryStatusInvalidated {
		return true
	}
	switch s {
	case MemoryStatusActive:
		return next == MemoryStatusAging || next == MemoryStatusSuperseded
	case MemoryStatusAging:
		return next == MemoryStatusActive || next == MemoryStatusSuperseded
	}
	return false
}

// Retrievable reports whether memories in this status are candidates for
// recall. Superseded and invalidated records are retained for audit only.
func (s MemoryStatus) Retrievable() bool {
	return s == MemoryStatusActive || s == MemoryStatusAging
}

// StoredMemory is a confidence-weighted fact learned from conversation.
type StoredMemory struct {
	ID                 int64        `json:"id"`
	UserID             string       `json:"user_id"`
	Entities           []string     `json:"entities"`
	Content            string       `json:"content"`
	Confidence         float32      `json:"confidence"`
	Importance         float32      `json:"importance"`
	Status             MemoryStatus `json:"status"`
	SourceHash         string       `json:"source_hash"`
	Embedding          []float32    `json:"-"`
	ReinforcementCount int          `json:"reinforcement_count"`
	CreatedAt          time.Time    `json:"created_at"`
	LastAccessedAt     time.Time    `json:"last_accessed_at"`
	LastValidatedAt    *time.Time   `json:"last_validated_at,omitempty"`
}

func (m *StoredMemory) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return ErrMemoryContentEmpty
	}
	if m.UserID == "" {
		return ErrMemoryUserIDEmpty
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if m.Importance < 0 || m.Importance > 1 {
		return ErrInvalidImportance
	}
	return nil
}

// ValidatedAt is LastValidatedAt, falling back to CreatedAt for memories
// that have never been reinforced.
func (m *StoredMemory) ValidatedAt() time.Time {
	if m.LastValidatedAt != nil {
		return *m.LastValidatedAt
	}
	return m.CreatedAt
}

// HasEntity reports whether the memory references the given entity id.
func (m *StoredMemory) HasEntity(entityID string) bool {
	for _, id := range m.Entities {
		if id == entityID {
			return true
		}
	}
	return false
}
