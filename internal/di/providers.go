package di

import (
	"context"
	"fmt"
	"time"

	"ArbRelay/internal/domain/models"
	domrepo "ArbRelay/internal/domain/repository"
	"ArbRelay/internal/handler/api"
	"ArbRelay/internal/handler/ws"
	"ArbRelay/internal/middleware"
	"ArbRelay/internal/relay"
	"ArbRelay/internal/repository"
	"ArbRelay/internal/service/broker"
	"ArbRelay/internal/service/broker/paper"
	"ArbRelay/internal/service/broker/wsgateway"
	"ArbRelay/internal/service/ratelimit"
	"ArbRelay/internal/service/relaylink"
	"ArbRelay/internal/usecase"
	"ArbRelay/pkg/cache"
	pkgch "ArbRelay/pkg/clickhouse"
	"ArbRelay/pkg/config"
	"ArbRelay/pkg/flight"
	xhttp "ArbRelay/pkg/http"
	pkgkafka "ArbRelay/pkg/kafka"
	"ArbRelay/pkg/logger"
	"ArbRelay/pkg/metrics"
	"ArbRelay/pkg/queue"
	"ArbRelay/pkg/server"
)

// ---- shared ----

func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
}

func ProvideMetrics(cfg *config.Config) domrepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Noop{}
	}
	return metrics.New(cfg.Metrics.Namespace)
}

// ---- relay ----

// ProvideCacheService is the in-process LRU, layered over Redis when enabled.
func ProvideCacheService(cfg *config.Config) (cache.Service, error) {
	mem := cache.NewMemoryCache(cfg.Redis.Memory)
	if !cfg.Redis.Enabled {
		return mem, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	remote, err := cache.NewRedisCache(ctx, cfg.Redis.Redis)
	if err != nil {
		_ = mem.Close()
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(mem, remote, cfg.Redis.L1TTL), nil
}

func ProvideResponseCache(svc cache.Service) domrepo.ResponseCache {
	return repository.NewResponseCache(svc)
}

func ProvideRouter(cfg *config.Config, registry *relay.Registry, pending *relay.Pending, rc domrepo.ResponseCache,
	log *logger.Logger, m domrepo.Metrics) *relay.Router {
	return relay.NewRouter(relay.RouterConfig{
		DefaultDeadline:       cfg.Relay.DefaultDeadline,
		ChainBase:             cfg.Relay.ChainBase,
		ChainPerContract:      cfg.Relay.ChainPerContract,
		ChainDefaultContracts: cfg.Relay.ChainDefaultContracts,
		CacheTTL:              cfg.Relay.CacheTTL,
	}, registry, pending, rc, log, m)
}

func ProvideHub(cfg *config.Config, router *relay.Router, log *logger.Logger) *relay.Hub {
	return relay.NewHub(relay.HubConfig{
		Link: relay.LinkConfig{
			WriteTimeout:      cfg.Relay.WriteTimeout,
			HeartbeatInterval: cfg.Relay.HeartbeatInterval,
			StaleAfter:        cfg.Relay.StaleAfter,
		},
		RegisterTimeout: cfg.Relay.RegisterTimeout,
		MaxFrameBytes:   cfg.Relay.MaxFrameBytes,
	}, router, relay.NewTokenVerifier(cfg.Relay.AgentSecret), log)
}

func ProvideRelayServer(cfg *config.Config, router *relay.Router, hub *relay.Hub, log *logger.Logger) *xhttp.Server {
	apiHandler := api.NewRelayEchoHandler(api.RelayHandlerConfig{
		APIKeys:       cfg.Relay.APIKeys,
		RateBurst:     cfg.Relay.RateBurst,
		RatePerSecond: cfg.Relay.RatePerSecond,
	}, router, ratelimit.New(), log)
	return xhttp.NewServer(cfg.Server, log, apiHandler, ws.NewAgentSocketHandler(hub, log))
}

func ProvideRelayApp(cfg *config.Config, srv *xhttp.Server, hub *relay.Hub, svc cache.Service, log *logger.Logger) *server.RelayApp {
	return server.NewRelayApp(srv, hub, svc, cfg.Server.ShutdownTimeout, log)
}

// ---- agent ----

// ProvideKafkaProducer returns nil when the bus is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(p.MaxAttempts),
		pkgkafka.WithBatching(p.BatchSize, p.Linger),
		pkgkafka.WithWriteTimeout(p.WriteTimeout),
		pkgkafka.WithAsync(p.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideAgentLogger attaches the error-log collector before any component derives a child logger.
func ProvideAgentLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	log, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}
	log = log.With(logger.String("user_id", cfg.Agent.UserID))
	if producer != nil && cfg.Agent.CollectErrors && cfg.Kafka.Topics.Logs != "" {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.Topics.Logs,
			Source:         "agent:" + cfg.Agent.UserID,
			Publisher:      producer,
		})
	}
	return log, nil
}

// ProvideOutputPublisher picks the bus: the Redis queue, Kafka, or a log sink when neither is configured.
func ProvideOutputPublisher(cfg *config.Config, producer *pkgkafka.Producer, m domrepo.Metrics, log *logger.Logger) (domrepo.OutputPublisher, error) {
	if cfg.Bus.Backend == "redis" {
		q, err := queue.NewRedisPublisher(context.Background(), log, cache.NewRedisClient(cfg.Redis.Redis), cfg.Bus.Queue.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("redis bus: %w", err)
		}
		return repository.NewRedisOutputPublisher(q, m), nil
	}
	if producer == nil {
		log.Warn("kafka disabled, output events are logged and dropped")
		return repository.NewLogOutputPublisher(log), nil
	}
	return repository.NewKafkaOutputPublisher(producer, repository.Topics{
		Chains: cfg.Kafka.Topics.Chains,
		Orders: cfg.Kafka.Topics.Orders,
	}, m), nil
}

func ProvidePublishPipeline(cfg *config.Config, pub domrepo.OutputPublisher, m domrepo.Metrics, log *logger.Logger) *middleware.PublishPipeline {
	p := cfg.Agent.Publish
	return middleware.NewPublishPipeline(pub, m, log,
		middleware.WithBufferSize(p.BufferSize),
		middleware.WithBatchSize(p.BatchSize),
		middleware.WithFlushInterval(p.FlushInterval),
		middleware.WithBackoff(p.BackoffMin, p.BackoffMax),
		middleware.WithChainThrottle(p.ChainThrottle),
	)
}

func ProvideOutputSink(p *middleware.PublishPipeline) usecase.OutputSink { return p }

// ProvideBrokerGateway picks the simulated broker or the websocket bridge.
func ProvideBrokerGateway(cfg *config.Config, log *logger.Logger) broker.Gateway {
	if cfg.Broker.Mode == "gateway" {
		return wsgateway.New(wsgateway.Config{
			URL:              cfg.Broker.GatewayURL(),
			HandshakeTimeout: cfg.Broker.HandshakeTimeout,
			WriteTimeout:     cfg.Broker.WriteTimeout,
			PingInterval:     cfg.Broker.HeartbeatInterval,
			EventBuffer:      cfg.Broker.MailboxSize,
		}, log)
	}
	pc := paper.DefaultConfig(time.Now())
	pc.Latency = cfg.Broker.PaperLatency
	return paper.New(pc)
}

func ProvideSupervisor(cfg *config.Config, gw broker.Gateway, log *logger.Logger, m domrepo.Metrics) *broker.Supervisor {
	b := cfg.Broker
	return broker.NewSupervisor(gw, broker.SupervisorConfig{
		ClientIDMin:       b.ClientIDMin,
		ClientIDMax:       b.ClientIDMax,
		ReconnectBackoff:  b.ReconnectBackoff,
		HeartbeatInterval: b.HeartbeatInterval,
		StaleAfter:        b.StaleAfter,
		Session: broker.SessionOptions{
			MailboxSize:          b.MailboxSize,
			PositionsMailboxSize: b.PositionsMailboxSize,
		},
	}, log, m)
}

func ProvideChainFetcher(cfg *config.Config, log *logger.Logger, m domrepo.Metrics) *usecase.ChainFetcher {
	s := cfg.Scan
	rights := make([]models.Right, 0, len(s.Rights))
	for _, r := range s.Rights {
		rights = append(rights, models.Right(r))
	}
	return usecase.NewChainFetcher(usecase.ChainConfig{
		BatchSize:               s.BatchSize,
		RequestDelay:            s.RequestDelay,
		BatchDelay:              s.BatchDelay,
		BatchTimeoutBase:        s.BatchTimeoutBase,
		BatchTimeoutPerContract: s.BatchTimeoutPerContract,
		StepTimeout:             s.StepTimeout,
		StrikeLowerPct:          s.StrikeLowerPct,
		StrikeUpperPct:          s.StrikeUpperPct,
		LookbackDays:            s.LookbackDays,
		Rights:                  rights,
		BrokerMsgPerSec:         cfg.Broker.MsgPerSec,
	}, ratelimit.New(), log, m)
}

func ProvideChainScanner(cfg *config.Config, fetcher *usecase.ChainFetcher, gate *flight.Gate, sink usecase.OutputSink,
	log *logger.Logger) *usecase.ChainScanner {
	s := cfg.Scan
	return usecase.NewChainScanner(fetcher, usecase.SpreadConfig{
		ShortBandLowerPct: s.ShortBandLowerPct,
		ShortBandUpperPct: s.ShortBandUpperPct,
		MaxShortStrikes:   s.MaxShortStrikes,
		TopK:              s.TopK,
		DealProbability:   s.DealProbability,
	}, gate, sink, log)
}

func ProvidePositionReader(cfg *config.Config, gate *flight.Gate) *usecase.PositionReader {
	return usecase.NewPositionReader(gate, cfg.Broker.PositionsTimeout)
}

func ProvideQuoteReader(cfg *config.Config) *usecase.QuoteReader {
	return usecase.NewQuoteReader(cfg.Broker.QuoteTimeout)
}

func ProvideOrderSubmitter(cfg *config.Config, sink usecase.OutputSink, log *logger.Logger, m domrepo.Metrics) *usecase.OrderSubmitter {
	return usecase.NewOrderSubmitter(usecase.OrderConfig{
		AckTimeout:     cfg.Broker.AckTimeout,
		PreviewTimeout: cfg.Broker.PreviewTimeout,
		CancelTimeout:  cfg.Broker.CancelTimeout,
	}, sink, log, m)
}

func ProvideAgentOps(cfg *config.Config, sup *broker.Supervisor, positions *usecase.PositionReader, chains *usecase.ChainScanner,
	quotes *usecase.QuoteReader, orders *usecase.OrderSubmitter, log *logger.Logger, m domrepo.Metrics) *usecase.AgentOps {
	return usecase.NewAgentOps(cfg.Agent.UserID, sup, positions, chains, quotes, orders, log, m)
}

func ProvideRelayLink(cfg *config.Config, ops *usecase.AgentOps, log *logger.Logger) *relaylink.Client {
	a := cfg.Agent
	return relaylink.New(relaylink.Config{
		URL:             a.RelayURL,
		UserID:          a.UserID,
		AuthToken:       a.AuthToken,
		PingInterval:    a.PingInterval,
		StaleAfter:      a.StaleAfter,
		ReconnectMin:    a.ReconnectMin,
		ReconnectMax:    a.ReconnectMax,
		MaxConcurrent:   a.MaxConcurrent,
		MutatingTimeout: a.MutatingTimeout,
	}, ops, log)
}

func ProvideAgentServer(cfg *config.Config, sup *broker.Supervisor, link *relaylink.Client, log *logger.Logger) *xhttp.Server {
	return xhttp.NewServer(cfg.Server, log, api.NewAgentEchoHandler(cfg.Agent.UserID, sup, link, log))
}

func ProvideAgentApp(cfg *config.Config, sup *broker.Supervisor, link *relaylink.Client, pipeline *middleware.PublishPipeline,
	pub domrepo.OutputPublisher, srv *xhttp.Server, log *logger.Logger) *server.AgentApp {
	return server.NewAgentApp(sup, link, pipeline, pub, srv, cfg.Server.ShutdownTimeout, log)
}

// ---- archiver ----

func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := pkgch.NewClient(ctx, cfg.ClickHouse)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

func ProvideArchiveStore(ch *pkgch.Client, log *logger.Logger) domrepo.ArchiveStore {
	return repository.NewCHArchiveStore(ch, log)
}

// ProvideBusConsumer subscribes the archive handlers to chain and order events on the configured bus.
func ProvideBusConsumer(cfg *config.Config, store domrepo.ArchiveStore, m domrepo.Metrics, log *logger.Logger) (server.BusConsumer, error) {
	if cfg.Bus.Backend == "redis" {
		prefix := cfg.Bus.Queue.KeyPrefix
		return queue.NewRedisConsumer(log, cfg.Bus.Queue, cache.NewRedisClient(cfg.Redis.Redis),
			usecase.NewQueueArchiveJob(usecase.NewOutputArchiveHandler(prefix+":chain", models.OutputChain, store, m, log)),
			usecase.NewQueueArchiveJob(usecase.NewOutputArchiveHandler(prefix+":order", models.OutputOrder, store, m, log)),
		), nil
	}

	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.RequestIDHook())
	consumer.RegisterHandler(usecase.NewOutputArchiveHandler(cfg.Kafka.Topics.Chains, models.OutputChain, store, m, log))
	consumer.RegisterHandler(usecase.NewOutputArchiveHandler(cfg.Kafka.Topics.Orders, models.OutputOrder, store, m, log))
	return consumer, nil
}

func ProvideOrderHistory(cfg *config.Config, store domrepo.ArchiveStore) *usecase.OrderHistory {
	return usecase.NewOrderHistory(store, cfg.Archiver.HistoryRange, cfg.Archiver.HistoryMaxLimit)
}

func ProvideArchiverServer(cfg *config.Config, history *usecase.OrderHistory, store domrepo.ArchiveStore, log *logger.Logger) *xhttp.Server {
	return xhttp.NewServer(cfg.Archiver.Server, log, api.NewArchiveEchoHandler(history, store, cfg.Archiver.APIKeys, log))
}

func ProvideArchiverApp(cfg *config.Config, consumer server.BusConsumer, store domrepo.ArchiveStore, srv *xhttp.Server,
	log *logger.Logger) *server.ArchiverApp {
	return server.NewArchiverApp(consumer, store, srv, cfg.Archiver.Server.ShutdownTimeout, log)
}
