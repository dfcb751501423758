package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/santa-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/santa-chat/backend/internal/handler/page"
	"github.com/zhouzirui/santa-chat/backend/internal/handler/persona"
	"github.com/zhouzirui/santa-chat/backend/internal/handler/stream"
	"github.com/zhouzirui/santa-chat/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/santa-chat/backend/internal/middleware"
	personaModel "github.com/zhouzirui/santa-chat/backend/internal/model/persona"
	"github.com/zhouzirui/santa-chat/backend/internal/render"
	chatService "github.com/zhouzirui/santa-chat/backend/internal/service/chat"
	"github.com/zhouzirui/santa-chat/backend/pkg/utils"
)

// Options carries the router's ambient dependencies.
type Options struct {
	Logger         *zap.Logger
	HTTPMetrics    *middlewarePkg.HTTPMetrics
	MetricsHandler http.Handler
	AIEnabled      bool
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter wires HTTP routes to core services.
func NewRouter(personas personaModel.Store, chatSvc *chatService.Service, opts Options) (http.Handler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger, opts.HTTPMetrics, "/healthz", "/metrics"))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	limit := middlewarePkg.RateLimit(opts.RateLimitRPS, opts.RateLimitBurst)
	markdown := render.NewMarkdown()

	// Create handlers
	personaHandler := persona.New(personas)
	chatHandler := chat.New(chatSvc, personas, logger)
	streamHandler := stream.New(chatSvc, logger)
	wsHandler := ws.New(chatSvc, markdown, logger, opts.RateLimitRPS, opts.RateLimitBurst)
	pageHandler, err := page.New(chatSvc, personas, markdown, logger)
	if err != nil {
		return nil, err
	}

	pageHandler.RegisterRoutes(r, limit)
	wsHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api, limit)
		streamHandler.RegisterRoutes(api, limit)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ai":     opts.AIEnabled,
		})
	})
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	return r, nil
}
