package payment

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lumapay/paybot/internal/service/conversation"
	"github.com/lumapay/paybot/internal/service/responder"
	"github.com/lumapay/paybot/internal/store"
	"github.com/lumapay/paybot/pkg/utils"
)

// Handler exposes the payment conversation over HTTP.
type Handler struct {
	svc    *conversation.Service
	logger *zap.Logger
}

// New creates the payment handler.
func New(svc *conversation.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the payment endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/payment/message", h.handleMessage)
	r.Get("/payment/session/{sessionID}", h.handleGetSession)
}

type messageRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var payload messageRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.ProcessMessage(r.Context(), payload.SessionID, payload.Message)
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	case errors.Is(err, responder.ErrUnsafePrompt):
		// Masking invariant violated; nothing user-facing can fix this.
		h.logger.Error("message aborted by masking guard", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "message could not be processed")
		return
	case err != nil:
		h.logger.Error("failed to process message", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.svc.Snapshot(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load session snapshot",
			zap.String("session_id", sessionID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	utils.RespondJSON(w, http.StatusOK, sess)
}
