package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/example/sourcebridge/internal/adapters/factory"
	"github.com/example/sourcebridge/internal/catalog"
	"github.com/example/sourcebridge/internal/config"
	"github.com/example/sourcebridge/internal/logger"
	"github.com/example/sourcebridge/internal/runner"
	"github.com/example/sourcebridge/internal/telemetry"
	"github.com/example/sourcebridge/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.RoleWorker)
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New("entity-worker", cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("entity", cfg.Service.Entity).Logger()

	nullPolicy, err := worker.ParseNullPolicy(cfg.Service.NullPayloadPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid null payload policy")
	}

	metrics := telemetry.NewMetrics()
	backends, closeBackends, err := factory.Backends(cfg, log.With().Str("component", "sources").Logger(), factory.Hooks{
		TokenRefresh: metrics.TokenRefreshHook,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise sources")
	}
	defer func() {
		if err := closeBackends(); err != nil {
			log.Error().Err(err).Msg("failed to close keystore")
		}
	}()

	processor, err := catalog.Pipeline(cfg.Service.Entity, backends, catalog.PipelineConfig{
		NullPolicy: nullPolicy,
		Mirror:     cfg.Service.MirrorToKeystore,
		Logger:     log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build entity pipeline")
	}

	err = runner.Run(ctx, cfg, runner.Job{
		Entity:    cfg.Service.Entity,
		Topic:     cfg.Kafka.RequestTopic,
		Processor: processor,
		Metrics:   metrics,
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("entity worker stopped")
		_ = closeBackends()
		os.Exit(1)
	}
	log.Info().Msg("entity worker stopped")
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("entity worker init failed")
}
