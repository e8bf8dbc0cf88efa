package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/dispatch"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/notify"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/sweep"
	"github.com/parleyhq/parley/internal/telemetry"
	"github.com/parleyhq/parley/internal/trigger"
	"github.com/parleyhq/parley/internal/validate"
)

// app owns the assembled components for the start command.
type app struct {
	logger        *slog.Logger
	store         *store.Store
	gateway       *gateway.Gateway
	sweeper       *sweep.Sweeper
	traceShutdown func(context.Context) error
}

// newApp wires the full process from configuration: telemetry, store,
// collaborators, trigger engine, dispatcher, gateway, and sweeper.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := telemetry.NewLogger(cfg.LogLevel)

	traceShutdown, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, "parley")
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	client := llm.NewClient(cfg.LLM, nil)
	triggers := trigger.NewEngine(cfg.TriggerConfig(logger), client)
	gate := validate.Gate{
		MinLength:        cfg.Validation.MinLength,
		ForbiddenPhrases: cfg.Validation.ForbiddenPhrases,
	}

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notify.URL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify, nil)
	}

	registry := prometheus.NewRegistry()
	metrics := dispatch.NewMetrics(registry)
	dispatcher := dispatch.New(st, client, client, triggers, gate, notifier, metrics, logger)

	return &app{
		logger:        logger,
		store:         st,
		gateway:       gateway.New(cfg.Gateway, dispatcher, st, registry, logger),
		sweeper:       sweep.New(cfg.Sweep, st, logger),
		traceShutdown: traceShutdown,
	}, nil
}

// run starts everything and blocks until the context is canceled.
func (a *app) run(ctx context.Context) error {
	if err := a.gateway.Start(); err != nil {
		return err
	}
	if err := a.sweeper.Start(); err != nil {
		return err
	}
	a.logger.Info("parley started")

	<-ctx.Done()
	a.logger.Info("shutdown signal received")

	shutdownCtx := context.Background()
	if err := a.gateway.Stop(shutdownCtx); err != nil {
		a.logger.Error("gateway shutdown error", "error", err)
	}
	if err := a.sweeper.Stop(shutdownCtx); err != nil {
		a.logger.Error("sweeper shutdown error", "error", err)
	}
	if err := a.traceShutdown(shutdownCtx); err != nil {
		a.logger.Error("trace shutdown error", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close error", "error", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}
