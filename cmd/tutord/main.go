package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aravind45/school-tutor-chatbot/internal/config"
	"github.com/aravind45/school-tutor-chatbot/internal/engine"
	"github.com/aravind45/school-tutor-chatbot/internal/httpapi"
	"github.com/aravind45/school-tutor-chatbot/internal/observability"
	"github.com/aravind45/school-tutor-chatbot/internal/prompt"
	"github.com/aravind45/school-tutor-chatbot/internal/session"
	"github.com/aravind45/school-tutor-chatbot/internal/topic"
	"github.com/aravind45/school-tutor-chatbot/internal/transcript"
	"github.com/aravind45/school-tutor-chatbot/internal/tutor"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("APP_LOG_PRETTY") != "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	archive, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("transcript store init failed")
	}
	defer archive.Close()

	runner, err := engine.NewRunner(ctx, engine.Config{
		Mode:      cfg.EngineMode,
		HTTPURL:   cfg.EngineHTTPURL,
		CLIPath:   cfg.EngineCLIPath,
		ModelPath: cfg.ModelPath,
		Device:    cfg.EngineDevice,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("inference runner init failed")
	}
	eng := engine.New(runner, cfg.GenerationTimeout)

	store := session.NewStore(cfg.SessionTTL, cfg.SessionRetentionTurns, cfg.SessionMaxCount)
	store.SetEvictHook(func(count int) {
		metrics.SessionEvents.WithLabelValues("expired").Add(float64(count))
		metrics.ActiveSessions.Set(float64(store.Count()))
	})

	builder := prompt.NewBuilder(topic.NewKeywordClassifier(), cfg.ContextBudgetChars, cfg.ContextMaxExchanges)
	svc := tutor.NewService(store, builder, eng, archive, metrics, engine.Params{
		MaxNewTokens: cfg.MaxNewTokens,
		Temperature:  cfg.Temperature,
		TopP:         cfg.TopP,
	}, cfg.MaxMessageChars)

	api := httpapi.New(cfg, svc, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	store.StartJanitor(runCtx, time.Minute)

	go func() {
		info := eng.Snapshot()
		log.Info().
			Str("addr", cfg.BindAddr).
			Str("backend", info.Backend).
			Str("device", info.Device).
			Str("model", info.Model).
			Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}
