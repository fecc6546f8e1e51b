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

	"github.com/WHABGAMES/rafeq-backend-sub002/internal/config"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/credstore"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/database"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/events"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/handler"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/jobs"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/middleware"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/protocol"
	_ "github.com/WHABGAMES/rafeq-backend-sub002/internal/protocol/devproto"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/redis"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/repository"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/session"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(pingCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	factory, err := protocol.Open(cfg.ProtocolDriver)
	if err != nil {
		log.Fatal().Err(err).Strs("available", protocol.Drivers()).Msg("unknown protocol driver")
	}
	log.Info().Str("driver", cfg.ProtocolDriver).Msg("protocol driver selected")

	channelRepo := repository.NewChannelRepository(db.DB)
	credStore := credstore.New(cfg.AuthStateDir, channelRepo)

	broker := events.NewBroker(redisClient)
	defer broker.Close()

	manager := session.NewManager(factory, credStore, channelRepo, broker, session.Options{
		MaxRetries: cfg.MaxReconnectRetries,
	})

	if cfg.SkipStartupRestore {
		log.Info().Msg("startup restoration skipped")
	} else {
		restoreCtx, restoreCancel := context.WithTimeout(context.Background(), config.StartupRestoreTimeout)
		manager.RestoreAll(restoreCtx)
		restoreCancel()
	}

	pairingGate := middleware.NewPairingRateLimitMiddleware(redisClient.Client, cfg.PairingStartsPerMin)

	sessionHandler := handler.NewSessionHandler(manager, pairingGate.Handler)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"sessions":  len(manager.Snapshot()),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		// SSE streams outlive the request timeout, so they bypass it.
		r.Get("/channels/{channelID}/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Mount("/", sessionHandler.Routes())
		})
	})

	snapshotJob := jobs.NewSnapshotJob(manager, config.CredentialSnapshotInterval)
	snapshotJob.Start()

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

	snapshotJob.Stop()
	manager.Shutdown(shutdownCtx)

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
