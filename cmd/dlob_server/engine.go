package main

import (
	"context"
	"dlob_engine/internal/auth"
	"dlob_engine/internal/bootstrap"
	"dlob_engine/internal/config"
	"dlob_engine/internal/core"
	"dlob_engine/internal/feed"
	"dlob_engine/internal/infrastructure/grpc/grpcserver"
	"dlob_engine/internal/infrastructure/health"
	"dlob_engine/internal/infrastructure/server"
	"dlob_engine/internal/source"
	"dlob_engine/internal/subscriber"
	"dlob_engine/pkg/concurrency"
	"dlob_engine/pkg/liveserver"
	"dlob_engine/pkg/telemetry"
	"fmt"
	"time"

	pkghttp "dlob_engine/pkg/http"

	"google.golang.org/grpc"
)

const healthInterval = 5 * time.Second

// engine holds every long-lived component of the server
type engine struct {
	cfg    *config.Config
	logger core.ILogger

	registry   *source.MarketRegistry
	pool       *concurrency.WorkerPool
	slots      *source.SlotSubscriber
	oracles    *source.OracleCache
	poller     *source.OraclePoller
	subscriber *subscriber.Subscriber
	health     *health.HealthManager

	hub       *liveserver.Hub
	live      *liveserver.Server
	publisher *feed.Publisher
	kafka     *feed.KafkaSink

	api  *server.APIServer
	grpc *grpcserver.Server
}

func buildEngine(cfg *config.Config, logger core.ILogger) (*engine, error) {
	e := &engine{cfg: cfg, logger: logger}

	registry, err := source.NewMarketRegistry(cfg.Markets)
	if err != nil {
		return nil, err
	}
	e.registry = registry

	metrics := telemetry.GetGlobalMetrics()
	client := pkghttp.NewClient(
		cfg.Source.BaseURL,
		cfg.Source.RequestTimeout(),
		pkghttp.APIKeySigner{Key: cfg.Source.APIKey.Reveal()},
		pkghttp.WithRateLimit(float64(cfg.Source.RequestsPerSecond), cfg.Source.RequestsPerSecond),
		pkghttp.WithBreakerListener(func(open bool) {
			metrics.SetCircuitBreakerOpen("order_state_api", open)
			if open {
				logger.Warn("Order state API circuit opened")
			} else {
				logger.Info("Order state API circuit closed")
			}
		}),
	)

	e.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "market_fetch",
		MaxWorkers:  cfg.Concurrency.FetchPoolSize,
		MaxCapacity: cfg.Concurrency.FetchPoolBuffer,
	}, logger)
	provider := source.NewHTTPOrderProvider(client, e.pool, registry.IDs(), logger)

	var slots core.ISlotSource = source.LatestSlot{}
	if cfg.Source.SlotWSURL != "" {
		e.slots = source.NewSlotSubscriber(cfg.Source.SlotWSURL, 10*cfg.DLOB.UpdateFrequency(), logger)
		slots = e.slots
	}

	e.oracles = source.NewOracleCache(cfg.Oracle.MaxAge())
	e.poller = source.NewOraclePoller(client, e.oracles, registry.IDs(), cfg.Oracle.PollInterval(), logger)

	amounts, err := cfg.DLOB.QuoteAmounts()
	if err != nil {
		return nil, err
	}
	e.subscriber, err = subscriber.New(subscriber.Config{
		UpdateFrequency:       cfg.DLOB.UpdateFrequency(),
		RefreshTimeout:        cfg.DLOB.RefreshTimeout(),
		QueueHighWater:        cfg.DLOB.QueueHighWater,
		TopOfBookQuoteAmounts: amounts,
	}, subscriber.Deps{
		Provider: provider,
		Slots:    slots,
		Markets:  registry,
		Oracles:  e.oracles,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	e.health = health.NewHealthManager(logger)
	e.health.Register("dlob_subscriber", e.subscriber.CheckHealth)
	e.health.Register("order_state_api", func() error {
		if client.BreakerOpen() {
			return fmt.Errorf("circuit breaker open")
		}
		return nil
	})
	if e.slots != nil {
		e.health.Register("slot_stream", e.slots.Check)
	}

	if cfg.Feed.Enabled {
		if err := e.buildFeed(); err != nil {
			return nil, err
		}
	}

	e.api = server.NewAPIServer(cfg.Server.HTTPPort, e.subscriber, registry, e.health, cfg.DLOB.DefaultDepth, logger)
	var grpcOpts []grpc.ServerOption
	if keys := apiKeys(cfg.Server.APIKeys); len(keys) > 0 {
		validator := auth.NewAPIKeyValidator(keys, cfg.Server.APIKeyRateLimit, logger).
			Exempt("/health", "/metrics", "/grpc.health.v1.Health/")
		e.api.Use(validator.Middleware)
		grpcOpts = validator.ServerOptions()
	}
	if cfg.Server.GRPCPort > 0 {
		e.grpc = grpcserver.NewServer(cfg.Server.GRPCPort, e.health, logger, grpcOpts...)
	}
	e.health.OnChange(func(component string, healthy bool) {
		if component != "" {
			e.api.UpdateStatus("health."+component, fmt.Sprintf("%t", healthy))
		}
	})
	return e, nil
}

func apiKeys(secrets []config.Secret) []string {
	keys := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if k := s.Reveal(); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func (e *engine) buildFeed() error {
	var sinks []feed.Sink

	if e.cfg.Server.WSPort > 0 {
		e.hub = liveserver.NewHub(e.logger)
		e.live = liveserver.NewServer(e.hub, e.logger, e.cfg.Server.AllowedOrigins)
		if e.cfg.Server.MaxConnections > 0 {
			e.live.SetMaxConnections(e.cfg.Server.MaxConnections)
		}
		sinks = append(sinks, feed.NewHubSink(e.live))
	}

	if e.cfg.Kafka.Enabled {
		k, err := feed.NewKafkaSink(e.cfg.Kafka.Brokers, e.cfg.Kafka.Topic, e.cfg.Kafka.ClientID)
		if err != nil {
			return fmt.Errorf("kafka sink: %w", err)
		}
		e.kafka = k
		sinks = append(sinks, k)
	}

	if len(sinks) == 0 {
		e.logger.Warn("Feed enabled without a WebSocket port or Kafka sink")
		return nil
	}

	e.publisher = feed.NewPublisher(e.subscriber, feed.Options{
		Markets:     e.cfg.Feed.Markets,
		Depth:       e.cfg.Feed.Depth,
		IncludeVAMM: e.cfg.Feed.IncludeVAMM,
	}, sinks, e.logger)
	return nil
}

// runDLOB starts the upstream feeds, subscribes and blocks until ctx is done
func (e *engine) runDLOB(ctx context.Context) error {
	if e.slots != nil {
		e.slots.Start()
		defer e.slots.Stop()
	}

	e.poller.Start(ctx)
	defer e.poller.Stop()

	if e.publisher != nil {
		e.publisher.Attach()
		defer e.publisher.Detach()
	}

	if err := e.subscriber.Subscribe(ctx); err != nil {
		return fmt.Errorf("initial subscribe: %w", err)
	}
	defer e.subscriber.Unsubscribe()

	e.api.UpdateStatus("subscriber", e.subscriber.State().String())
	<-ctx.Done()
	return nil
}

func (e *engine) runners() []bootstrap.Runner {
	runners := []bootstrap.Runner{
		bootstrap.RunnerFunc(e.runDLOB),
		bootstrap.RunnerFunc(e.api.Start),
		bootstrap.RunnerFunc(func(ctx context.Context) error {
			e.health.Watch(ctx, healthInterval)
			return nil
		}),
	}
	if e.grpc != nil {
		runners = append(runners, bootstrap.RunnerFunc(e.grpc.Start))
	}
	if e.hub != nil {
		runners = append(runners,
			bootstrap.RunnerFunc(func(ctx context.Context) error {
				e.hub.Run(ctx)
				return nil
			}),
			bootstrap.RunnerFunc(func(ctx context.Context) error {
				return e.live.Start(ctx, fmt.Sprintf(":%d", e.cfg.Server.WSPort))
			}),
		)
	}
	return runners
}

// close releases resources that outlive the runners
func (e *engine) close() {
	if e.kafka != nil {
		if err := e.kafka.Close(); err != nil {
			e.logger.Warn("Kafka producer close failed", "error", err)
		}
	}
	e.pool.Stop()
}
