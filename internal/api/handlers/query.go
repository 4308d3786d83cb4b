package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Harshitk-cp/mnemo/internal/domain"
	"github.com/Harshitk-cp/mnemo/internal/service"
	"github.com/google/uuid"
)

type QueryHandler struct {
	svc *service.QueryService
}

func NewQueryHandler(svc *service.QueryService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

type queryRequest struct {
	UserID         string   `json:"user_id"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Message        string   `json:"message"`
	Mentions       []string `json:"mentions,omitempty"`
	// Recent carries the conversation's recently mentioned entities, most
	// recent first, so pronouns can resolve against them.
	Recent []domain.CoreferenceCandidate `json:"recent_entities,omitempty"`
}

func (h *QueryHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	conversationID := uuid.New()
	if req.ConversationID != "" {
		parsed, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid conversation_id")
			return
		}
		conversationID = parsed
	}

	result, err := h.svc.Answer(r.Context(), service.QueryInput{
		UserID:         req.UserID,
		ConversationID: conversationID,
		Message:        req.Message,
		Mentions:       req.Mentions,
		Recent:         req.Recent,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to answer query")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
