package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ezchat/realtime/backend/internal/config"
	"github.com/ezchat/realtime/backend/internal/handler/chat"
	relayHandler "github.com/ezchat/realtime/backend/internal/handler/relay"
	middlewarePkg "github.com/ezchat/realtime/backend/internal/middleware"
	"github.com/ezchat/realtime/backend/internal/relay"
	chatService "github.com/ezchat/realtime/backend/internal/service/chat"
	"github.com/ezchat/realtime/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg *config.Config, chatSvc *chatService.Service, rl *relay.Relay) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.Server.AllowedOrigins))

	opts := relay.Options{
		SendBuffer:   cfg.Relay.SendBuffer,
		WriteTimeout: cfg.Relay.WriteTimeout,
		ReadTimeout:  cfg.Relay.ReadTimeout,
		PingInterval: cfg.Relay.PingInterval,
	}

	// 实时转发：WebSocket 为主，SSE 为只读回退
	relayHandler.NewWebSocketHandler(rl, opts, cfg.Server.AllowedOrigins).RegisterRoutes(r)
	relayHandler.NewStreamHandler(rl, cfg.Relay.SendBuffer).RegisterRoutes(r)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"relay":  rl.Stats(),
		})
	})

	chatHandler := chat.New(chatSvc)
	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterPublicRoutes(api)

		api.Group(func(authed chi.Router) {
			authed.Use(middlewarePkg.Auth(cfg.Auth.JWTSecret))
			chatHandler.RegisterRoutes(authed)
		})
	})

	return r
}
