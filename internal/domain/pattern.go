package domain

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatternUserIDEmpty  = errors.New("user_id is required")
	ErrPatternAnchorEmpty  = errors.New("anchor tool is required")
	ErrPatternActionsEmpty = errors.New("action structure must name at least one tool")
)

// TriggerFeatures is the structured half of a pattern's trigger: the anchor
// tool that starts the sequence and the entity types seen in its arguments.
type TriggerFeatures struct {
	AnchorTool  string   `json:"anchor_tool"`
	EntityTypes []string `json:"entity_types"`
}

// FeatureKey returns a canonical string for equivalence checks: two patterns
// with the same anchor tool and entity-type set are the same pattern.
func (f TriggerFeatures) FeatureKey() string {
	types := make([]string, len(f.EntityTypes))
	copy(types, f.EntityTypes)
	sort.Strings(types)
	return f.AnchorTool + "|" + strings.Join(types, ",")
}

// ActionStructure is the structured half of a pattern's action: the tools
// that should also be called when the trigger fires.
type ActionStructure struct {
	Tools []string `json:"tools"`
}

// ProceduralPattern is a learned "when tool X is called, also call Y"
// heuristic mined from usage logs.
type ProceduralPattern struct {
	ID               uuid.UUID       `json:"id"`
	UserID           string          `json:"user_id"`
	TriggerPattern   string          `json:"trigger_pattern"`
	TriggerFeatures  TriggerFeatures `json:"trigger_features"`
	TriggerEmbedding []float32       `json:"-"`
	ActionHeuristic  string          `json:"action_heuristic"`
	ActionStructure  ActionStructure `json:"action_structure"`
	ObservedCount    int             `json:"observed_count"`
	Confidence       float32         `json:"confidence"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (p *ProceduralPattern) Validate() error {
	if p.UserID == "" {
		return ErrPatternUserIDEmpty
	}
	if p.TriggerFeatures.AnchorTool == "" {
		return ErrPatternAnchorEmpty
	}
	if len(p.ActionStructure.Tools) == 0 {
		return ErrPatternActionsEmpty
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return ErrInvalidConfidence
	}
	return nil
}

// PatternWithScore pairs a pattern with its trigger-embedding similarity to
// a query.
type PatternWithScore struct {
	ProceduralPattern
	Score float32 `json:"score"`
}

// ToolCall is a single tool invocation recorded in a usage log entry.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// UsageLogEntry records the ordered tool calls made while answering one
// conversational turn. Pattern mining runs over a recent window of these.
type UsageLogEntry struct {
	ID             uuid.UUID  `json:"id"`
	UserID         string     `json:"user_id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	ToolCalls      []ToolCall `json:"tool_calls"`
	CreatedAt      time.Time  `json:"created_at"`
}
