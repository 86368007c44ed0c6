package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jobflow/capture-server-go/internal/ai"
	"github.com/jobflow/capture-server-go/internal/config"
	"github.com/jobflow/capture-server-go/internal/handler"
	"github.com/jobflow/capture-server-go/internal/jobs"
	"github.com/jobflow/capture-server-go/internal/middleware"
	"github.com/jobflow/capture-server-go/internal/redis"
	"github.com/jobflow/capture-server-go/internal/resolver"
	"github.com/jobflow/capture-server-go/internal/service"
	"github.com/jobflow/capture-server-go/internal/sse"
	"github.com/jobflow/capture-server-go/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	sessionStore, err := store.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}
	defer sessionStore.Close()

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	var transcriber ai.Transcriber
	var suggester ai.QuoteSuggester
	if cfg.OpenAIAPIKey != "" {
		client := ai.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)
		transcriber = client
		suggester = client
		log.Info().Str("baseUrl", cfg.OpenAIBaseURL).Msg("ai collaborators enabled")
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set, ai enrichment disabled")
	}

	res := resolver.New(sessionStore, cfg.SessionWindow())
	sessionService := service.NewSessionService(sessionStore, res, suggester, transcriber, broker)

	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, cfg.RateLimitPerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(config.MaxPatchBodyBytes, config.MaxAudioBodyBytes)

	sessionHandler := handler.NewSessionHandler(sessionService)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimitMiddleware.Handler)

		r.Route("/sessions", func(r chi.Router) {
			r.Use(bodyLimitMiddleware.Handler)
			r.Mount("/", sessionHandler.Routes())
		})

		r.Get("/events", eventsHandler.ServeHTTP)
	})

	maintenanceJob := jobs.NewMaintenanceJob(sessionStore, config.MaintenanceJobInterval)
	maintenanceJob.Start()
	defer maintenanceJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
