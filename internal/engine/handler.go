package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/havenline/support-ai-platform/pkg/logging"
)

// Handler wires HTTP requests to the turn pipeline.
type Handler struct {
	processor   TurnProcessor
	transcripts *TranscriptStore
	logger      *logging.Logger
}

// NewHandler creates a turn handler. transcripts may be nil; the transcript
// endpoint then reports 404.
func NewHandler(processor TurnProcessor, transcripts *TranscriptStore, logger *logging.Logger) *Handler {
	if processor == nil {
		panic("engine: processor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		processor:   processor,
		transcripts: transcripts,
		logger:      logger,
	}
}

// Turn handles POST /v1/conversations/{conversationID}/turns.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode turn request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if id := chi.URLParam(r, "conversationID"); id != "" {
		req.ConversationID = id
	}

	result, err := h.processor.ProcessTurn(r.Context(), req)

	// An escalation delivery failure still carries the supportive reply; the
	// caller gets the turn result plus the failure so it can retry or page.
	var deliveryFailure *EscalationDeliveryFailure
	if errors.As(err, &deliveryFailure) {
		h.logger.Error("escalation delivery failed", "conversation_id", req.ConversationID, "error", err)
		h.writeJSON(w, http.StatusBadGateway, turnResponse{Result: result, Error: deliveryFailure.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to process turn", "error", err)
		http.Error(w, "Failed to process turn", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, turnResponse{Result: result})
}

// Transcript handles GET /v1/conversations/{conversationID}/transcript.
func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	if h.transcripts == nil {
		http.Error(w, "Transcript storage not configured", http.StatusNotFound)
		return
	}
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		http.Error(w, "Conversation id required", http.StatusBadRequest)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	messages, err := h.transcripts.ListMessages(r.Context(), conversationID, limit)
	if err != nil {
		h.logger.Error("failed to list transcript", "conversation_id", conversationID, "error", err)
		http.Error(w, "Failed to load transcript", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        messages,
	})
}

// HealthCheck handles GET /healthz.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type turnResponse struct {
	Result *TurnResult `json:"result"`
	Error  string      `json:"error,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
