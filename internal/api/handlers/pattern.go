package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/Harshitk-cp/mnemo/internal/service"
)

type PatternHandler struct {
	miner     *service.PatternMinerService
	embedding domain.EmbeddingClient
}

func NewPatternHandler(miner *service.PatternMinerService, ec domain.EmbeddingClient) *PatternHandler {
	return &PatternHandler{miner: miner, embedding: ec}
}

type mineRequest struct {
	UserID string `json:"user_id"`
}

// Mine triggers a mining pass over the user's recent tool usage.
func (h *PatternHandler) Mine(w http.ResponseWriter, r *http.Request) {
	var req mineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	result, err := h.miner.Mine(r.Context(), req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "mining failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type matchRequest struct {
	UserID        string  `json:"user_id"`
	Query         string  `json:"query"`
	Limit         int     `json:"limit,omitempty"`
	MinConfidence float32 `json:"min_confidence,omitempty"`
}

// Match returns the mined patterns most similar to the query text.
func (h *PatternHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = service.DefaultPatternLimit
	}

	if h.embedding == nil {
		writeJSON(w, http.StatusOK, map[string]any{"patterns": []domain.PatternWithScore{}})
		return
	}
	embedding, err := h.embedding.Embed(r.Context(), req.Query)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "embedding unavailable")
		return
	}

	patterns := h.miner.Augment(r.Context(), req.UserID, embedding, req.Limit, req.MinConfidence)
	if patterns == nil {
		patterns = []domain.PatternWithScore{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns})
}
