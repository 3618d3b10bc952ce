// ABOUTME: Builds the council from configuration: team, collaborators, engine, gate and observers
// ABOUTME: Shared by the serve and ask commands; owns the resources it opens

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/2389/coven-council/internal/classify"
	"github.com/2389/coven-council/internal/config"
	"github.com/2389/coven-council/internal/council"
	"github.com/2389/coven-council/internal/engine"
	"github.com/2389/coven-council/internal/llm"
	"github.com/2389/coven-council/internal/metrics"
	"github.com/2389/coven-council/internal/sandbox"
	"github.com/2389/coven-council/internal/session"
	"github.com/2389/coven-council/internal/store"
)

// redisPingTimeout bounds the startup connectivity check.
const redisPingTimeout = 5 * time.Second

// app holds everything a command needs to run tasks.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	ledger   store.Ledger
	service  *council.Service
	closers  []func() error
}

// buildOptions selects optional parts of the wiring.
type buildOptions struct {
	// distributed enables the Redis lease when redis.addr is configured
	distributed bool
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts buildOptions) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	team, graph, err := cfg.BuildTeam()
	if err != nil {
		return nil, fmt.Errorf("building team: %w", err)
	}

	assistant, err := llm.New(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.Council.TurnTimeout,
		Headers:     cfg.LLM.Headers,
	}, team, logger)
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}

	var executor engine.TurnProducer
	if cfg.Sandbox.URL != "" {
		executor = sandbox.New(cfg.Sandbox.URL, cfg.Council.TurnTimeout, logger)
	} else {
		logger.Warn("sandbox.url not set, the executor role answers through the language model")
	}
	producer, err := council.NewRouter(assistant, executor)
	if err != nil {
		return nil, fmt.Errorf("creating turn router: %w", err)
	}

	observers := []engine.MessageObserver{a.metrics}
	if cfg.Database.Path != "" {
		ledger, err := store.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("opening ledger: %w", err)
		}
		a.ledger = ledger
		a.closers = append(a.closers, ledger.Close)
		observers = append(observers, store.NewRecorder(ledger, logger))
	}

	eng, err := engine.New(engine.Config{
		MaxRounds:          cfg.Council.MaxRounds,
		MaxServiceTurns:    cfg.Council.MaxServiceTurns,
		FinalAnswerDefault: cfg.Council.FinalAnswer,
	}, engine.Deps{
		Roster:     team,
		Graph:      graph,
		Classifier: classify.New(cfg.ClassifierRules()),
		Producer:   producer,
		Selector:   assistant,
		Observers:  observers,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	var lease session.Lease
	if opts.distributed && cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		lease = session.NewRedisLease(client, cfg.Redis.Prefix, cfg.Redis.LeaseTTL, logger)
		logger.Info("distributed session lease enabled", "redis", cfg.Redis.Addr, "ttl", cfg.Redis.LeaseTTL)
	}

	gate := session.NewGate(lease, logger)
	metrics.RegisterSessions(a.registry, gate.Len)
	a.service = council.NewService(eng, gate, a.metrics, logger)
	return a, nil
}

// Close releases opened resources in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
