package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/Harshitk-cp/mnemo/internal/service"
	"github.com/Harshitk-cp/mnemo/internal/store"
	"github.com/go-chi/chi/v5"
)

type MemoryHandler struct {
	lifecycle   *service.MemoryLifecycleService
	scorer      *service.RetrievalScorer
	memoryStore domain.MemoryStore
	embedding   domain.EmbeddingClient
}

func NewMemoryHandler(lifecycle *service.MemoryLifecycleService, scorer *service.RetrievalScorer, ms domain.MemoryStore, ec domain.EmbeddingClient) *MemoryHandler {
	return &MemoryHandler{lifecycle: lifecycle, scorer: scorer, memoryStore: ms, embedding: ec}
}

type rememberRequest struct {
	UserID   string   `json:"user_id"`
	Content  string   `json:"content"`
	Entities []string `json:"entities,omitempty"`
	// Pointers so an explicit zero survives decoding; absent means default.
	Confidence *float32 `json:"confidence,omitempty"`
	Importance *float32 `json:"importance,omitempty"`
}

func (h *MemoryHandler) Remember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	result, err := h.lifecycle.Remember(r.Context(), service.RememberInput{
		UserID:     req.UserID,
		Content:    req.Content,
		Entities:   req.Entities,
		Confidence: req.Confidence,
		Importance: req.Importance,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidConfidence),
			errors.Is(err, domain.ErrInvalidImportance),
			errors.Is(err, domain.ErrMemoryContentEmpty),
			errors.Is(err, domain.ErrMemoryUserIDEmpty):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to store memory")
		}
		return
	}

	status := http.StatusCreated
	if result.Reinforced {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *MemoryHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid memory id")
		return
	}

	m, err := h.memoryStore.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch memory")
		return
	}

	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"memory":             m,
		"effective_status":   h.lifecycle.EffectiveStatus(m, now),
		"decayed_confidence": h.lifecycle.DecayedConfidence(m, now),
	})
}

type recallRequest struct {
	UserID   string   `json:"user_id"`
	Query    string   `json:"query,omitempty"`
	Entities []string `json:"entities,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// Recall scores and ranks the user's retrievable memories without the full
// query pipeline. Embedding failures degrade to entity and recency signals.
func (h *MemoryHandler) Recall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = service.DefaultMemoryLimit
	}

	var queryEmbedding []float32
	if req.Query != "" && h.embedding != nil {
		if emb, err := h.embedding.Embed(r.Context(), req.Query); err == nil {
			queryEmbedding = emb
		}
	}

	candidates, err := h.lifecycle.Candidates(r.Context(), req.UserID, req.Entities)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to recall memories")
		return
	}

	q := service.RetrievalQuery{Embedding: queryEmbedding, EntityIDs: req.Entities}
	ranked := h.scorer.ScoreAndRank(q, candidates, time.Now(), req.Limit)
	writeJSON(w, http.StatusOK, map[string]any{"memories": ranked})
}

func (h *MemoryHandler) Reinforce(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid memory id")
		return
	}

	m, err := h.memoryStore.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch memory")
		return
	}

	if err := h.lifecycle.Reinforce(r.Context(), m); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "memory is no longer retrievable")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to reinforce memory")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

func (h *MemoryHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid memory id")
		return
	}

	if err := h.lifecycle.Invalidate(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrMemoryNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to invalidate memory")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
