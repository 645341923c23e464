package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/bot-lounge/backend/internal/handler/chat"
	"github.com/zhouzirui/bot-lounge/backend/internal/handler/persona"
	"github.com/zhouzirui/bot-lounge/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/bot-lounge/backend/internal/middleware"
	chatService "github.com/zhouzirui/bot-lounge/backend/internal/service/chat"
	"github.com/zhouzirui/bot-lounge/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	personaHandler := persona.New(chatSvc.Personas(), logger)
	chatHandler := chat.New(chatSvc, logger)
	wsHandler := ws.New(chatSvc, logger)

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	return r
}
