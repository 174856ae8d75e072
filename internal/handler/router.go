package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	paymentHandler "github.com/lumapay/paybot/internal/handler/payment"
	middlewarePkg "github.com/lumapay/paybot/internal/middleware"
	"github.com/lumapay/paybot/internal/service/conversation"
	"github.com/lumapay/paybot/pkg/utils"
)

// NewRouter wires HTTP routes to the conversation service.
func NewRouter(svc *conversation.Service, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	h := paymentHandler.New(svc, logger)
	ws := paymentHandler.NewWebSocketHandler(svc, logger)

	r.Route("/api", func(api chi.Router) {
		h.RegisterRoutes(api)
		ws.RegisterRoutes(api)
	})

	return r
}
