package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/Harshitk-cp/mnemo/internal/service"
)

type EntityHandler struct {
	resolver *service.ResolverService
}

func NewEntityHandler(resolver *service.ResolverService) *EntityHandler {
	return &EntityHandler{resolver: resolver}
}

type resolveRequest struct {
	UserID  string `json:"user_id"`
	Mention string `json:"mention"`
	// Recent holds the conversation's recently mentioned entities, most
	// recent first, for pronoun resolution.
	Recent []domain.CoreferenceCandidate `json:"recent_entities,omitempty"`
}

func (h *EntityHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Mention) == "" {
		writeError(w, http.StatusBadRequest, "mention is required")
		return
	}

	resolution, err := h.resolver.Resolve(r.Context(), req.Mention, req.UserID, req.Recent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve mention")
		return
	}

	writeJSON(w, http.StatusOK, resolution)
}
