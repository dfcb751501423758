package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhouzirui/santa-chat/backend/internal/config"
	"github.com/zhouzirui/santa-chat/backend/internal/handler"
	"github.com/zhouzirui/santa-chat/backend/internal/middleware"
	"github.com/zhouzirui/santa-chat/backend/internal/model/persona"
	"github.com/zhouzirui/santa-chat/backend/internal/service/ai"
	"github.com/zhouzirui/santa-chat/backend/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Warn("failed to load .env file, continuing with system environment variables only", zap.Error(envErr))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize persona store
	personaStore := persona.NewMemoryStore(persona.Seed())
	santa, ok := personaStore.Default()
	if !ok {
		logger.Fatal("no persona configured")
	}

	// Initialize AI service
	var starter chat.ChatStarter
	aiService, err := newAIService(ctx, cfg.AI, santa, logger)
	if err != nil {
		logger.Warn("continuing without AI functionality", zap.String("provider", cfg.AI.Provider), zap.Error(err))
	} else {
		starter = aiService
		logger.Info("AI service initialized",
			zap.String("provider", cfg.AI.Provider),
			zap.Int("max_output_tokens", cfg.AI.Generation.MaxOutputTokens),
		)
	}

	chatService := chat.NewService(personaStore, starter, chat.Config{
		SessionTTL:    cfg.Session.TTL,
		SweepInterval: cfg.Session.SweepInterval,
	}, logger, chat.NewMetrics(registry))
	go chatService.Run(ctx)

	router, err := handler.NewRouter(personaStore, chatService, handler.Options{
		Logger:         logger,
		HTTPMetrics:    middleware.NewHTTPMetrics(registry),
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AIEnabled:      starter != nil,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
	})
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}

	startServer(ctx, cfg.Server, router, logger)
}

func newAIService(ctx context.Context, cfg config.AIConfig, santa persona.Persona, logger *zap.Logger) (*ai.Service, error) {
	if !cfg.Enabled() {
		return nil, errors.New("ai provider credentials not configured")
	}
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	generation := cfg.Generation
	return ai.NewService(ctx, chatModel, ai.Options{
		Persona:    santa,
		Generation: &generation,
		Logger:     logger,
	})
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("Santa chat backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
