package payment

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumapay/paybot/internal/service/conversation"
)

// WebSocketHandler carries the same conversation flow over a persistent
// connection, for IVR bridges and chat widgets that hold a socket open
// instead of polling the HTTP endpoint.
type WebSocketHandler struct {
	svc      *conversation.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates the websocket payment handler.
func NewWebSocketHandler(svc *conversation.Service, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/payment/ws/{sessionID}", h.handleWebSocket)
}

type wsInbound struct {
	Message string `json:"message"`
}

type wsError struct {
	Error string `json:"error"`
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("websocket session opened", zap.String("session_id", sessionID))

	for {
		var inbound wsInbound
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		result, err := h.svc.ProcessMessage(r.Context(), sessionID, inbound.Message)
		if err != nil {
			if errors.Is(err, conversation.ErrEmptyMessage) {
				_ = conn.WriteJSON(wsError{Error: "message is required"})
				continue
			}
			h.logger.Error("websocket message processing failed",
				zap.String("session_id", sessionID), zap.Error(err))
			_ = conn.WriteJSON(wsError{Error: "message could not be processed"})
			continue
		}

		if err := conn.WriteJSON(result); err != nil {
			h.logger.Warn("websocket write failed", zap.Error(err))
			return
		}

		// End of conversation; let the client close after the final frame.
		if result.CurrentStep.Terminal() {
			h.logger.Info("websocket session finished",
				zap.String("session_id", sessionID),
				zap.String("status", string(result.Status)))
		}
	}
}
