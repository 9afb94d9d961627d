package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/example/sourcebridge/internal/adapters/factory"
	"github.com/example/sourcebridge/internal/config"
	"github.com/example/sourcebridge/internal/logger"
	"github.com/example/sourcebridge/internal/proxy"
	"github.com/example/sourcebridge/internal/runner"
	"github.com/example/sourcebridge/internal/telemetry"
	"github.com/example/sourcebridge/internal/worker"
	"github.com/example/sourcebridge/internal/workflow"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.RoleProxy)
	if err != nil {
		fail("config load", err)
	}

	log, err := logger.New("fanout-proxy", cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}

	names, err := workflow.ParseNameTemplate(cfg.Workflow.NameTemplate)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid workflow name template")
	}
	nullPolicy, err := worker.ParseNullPolicy(cfg.Service.NullPayloadPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid null payload policy")
	}

	metrics := telemetry.NewMetrics()
	starter, err := factory.Starter(cfg, log.With().Str("component", "workflow").Logger(), factory.Hooks{
		WorkflowStart: metrics.WorkflowStartHook(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise workflow starter")
	}

	processor, err := proxy.New(starter, *log, proxy.WithNameTemplate(names), proxy.WithNullPolicy(nullPolicy))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise proxy")
	}

	log.Info().Str("workflow_template", names.String()).Msg("fan-out proxy configured")
	err = runner.Run(ctx, cfg, runner.Job{
		Entity:    proxy.Entity,
		Topic:     cfg.Kafka.FanoutTopic,
		Processor: processor,
		Metrics:   metrics,
	}, *log)
	if err != nil {
		log.Fatal().Err(err).Msg("fan-out proxy stopped")
	}
	log.Info().Msg("fan-out proxy stopped")
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("fan-out proxy init failed")
}
