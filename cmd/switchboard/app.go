package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/switchboard/pkg/admission"
	"mercator-hq/switchboard/pkg/chat"
	"mercator-hq/switchboard/pkg/config"
	"mercator-hq/switchboard/pkg/conversation"
	"mercator-hq/switchboard/pkg/followup"
	"mercator-hq/switchboard/pkg/relay"
	"mercator-hq/switchboard/pkg/resilience"
	"mercator-hq/switchboard/pkg/server"
	"mercator-hq/switchboard/pkg/telemetry/health"
	"mercator-hq/switchboard/pkg/telemetry/metrics"
	"mercator-hq/switchboard/pkg/telemetry/tracing"
	"mercator-hq/switchboard/pkg/upstream"
)

// app is the wired relay process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics    *metrics.Collector
	tracer     *tracing.Tracer
	client     *upstream.HTTPClient
	guard      *resilience.Guard
	admission  *admission.Controller
	store      conversation.Store
	cache      *conversation.Cache
	maintainer *conversation.Maintainer
	followUps  *followup.Reconciler
	health     *health.Checker
	server     *server.Server
}

// newApp builds every component from cfg. Nothing is started.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	a.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer = tracer

	a.client, err = upstream.NewHTTPClient(cfg.Upstream, logger)
	if err != nil {
		a.close(context.Background())
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	a.guard = resilience.NewGuard(
		resilience.PolicyFromConfig(cfg.Retry),
		resilience.BreakerSettingsFromConfig(cfg.Breaker),
		resilience.WithMetrics(a.metrics),
		resilience.WithTracer(a.tracer),
		resilience.WithLogger(logger),
	)

	a.admission = admission.NewController(admission.LimitsFromConfig(cfg.Admission),
		admission.WithMetrics(a.metrics),
		admission.WithLogger(logger),
	)

	a.store, err = conversation.NewStore(cfg.Conversation)
	if err != nil {
		a.close(context.Background())
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	a.cache = conversation.NewCache(a.client, a.guard,
		conversation.WithStore(a.store),
		conversation.WithMetrics(a.metrics),
		conversation.WithLogger(logger),
		conversation.WithOperationTimeout(cfg.Conversation.OperationTimeout),
	)
	a.maintainer = conversation.NewMaintainer(a.cache, a.store,
		cfg.Conversation.MaintenanceSchedule, cfg.Conversation.StoreRetention, a.metrics, logger)

	rel, err := relay.FromConfig(cfg.Relay, logger)
	if err != nil {
		a.close(context.Background())
		return nil, fmt.Errorf("invalid relay configuration: %w", err)
	}

	a.followUps = followup.NewReconciler(a.client, a.guard, cfg.FollowUp,
		followup.WithMetrics(a.metrics),
		followup.WithLogger(logger),
	)

	service := chat.NewService(chat.Deps{
		Admission:      a.admission,
		Conversations:  a.cache,
		Guard:          a.guard,
		Client:         a.client,
		Relay:          rel,
		FollowUps:      a.followUps,
		Session:        relay.SettingsFromConfig(cfg.Relay),
		SessionMetrics: a.metrics,
		Tracer:         a.tracer,
		Logger:         logger,
	})

	a.health = health.New(2 * time.Second)
	a.health.Register("upstream_stream_breaker", a.streamBreakerCheck)

	a.server = server.NewServer(cfg, server.Deps{
		Streamer:      service,
		Conversations: a.cache,
		Health:        a.health,
		Admission:     a.admission,
		Metrics:       a.metrics,
		Logger:        logger,
		Version:       Version,
		Commit:        GitCommit,
		BuildDate:     BuildDate,
	})
	return a, nil
}

// streamBreakerCheck fails readiness while the answer stream breaker is
// open: new turns would be rejected anyway.
func (a *app) streamBreakerCheck(context.Context) error {
	b := a.guard.Breaker(resilience.ClassOpenStream)
	if b.State() == resilience.StateOpen {
		return errors.New("upstream stream circuit is open")
	}
	return nil
}

// run starts background maintenance and serves until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	if err := a.maintainer.Start(ctx); err != nil {
		a.logger.Warn("conversation maintenance disabled", "error", err)
	} else {
		defer a.maintainer.Stop()
	}
	return a.server.Start(ctx)
}

// close releases everything newApp acquired. Pending follow-up clears get
// until ctx is done.
func (a *app) close(ctx context.Context) {
	if a.followUps != nil {
		if err := a.followUps.Wait(ctx); err != nil {
			a.logger.Warn("follow-up clears still pending at exit", "error", err)
		}
	}
	if a.admission != nil {
		a.admission.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close conversation store", "error", err)
		}
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to flush traces", "error", err)
		}
	}
}
