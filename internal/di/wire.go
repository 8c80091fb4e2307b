//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"ArbRelay/internal/relay"
	"ArbRelay/pkg/config"
	"ArbRelay/pkg/flight"
	"ArbRelay/pkg/server"
)

// InitializeRelay builds the relay process.
func InitializeRelay(cfg *config.Config) (*server.RelayApp, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		ProvideCacheService,
		ProvideResponseCache,

		relay.NewRegistry,
		relay.NewPending,
		ProvideRouter,
		ProvideHub,

		ProvideRelayServer,
		ProvideRelayApp,
	)
	return nil, nil
}

// InitializeAgent builds the per-user agent process.
func InitializeAgent(cfg *config.Config) (*server.AgentApp, error) {
	wire.Build(
		ProvideKafkaProducer,
		ProvideAgentLogger,
		ProvideMetrics,

		// output bus
		ProvideOutputPublisher,
		ProvidePublishPipeline,
		ProvideOutputSink,

		// broker
		ProvideBrokerGateway,
		ProvideSupervisor,

		// operations
		flight.New,
		ProvideChainFetcher,
		ProvideChainScanner,
		ProvidePositionReader,
		ProvideQuoteReader,
		ProvideOrderSubmitter,
		ProvideAgentOps,

		ProvideRelayLink,
		ProvideAgentServer,
		ProvideAgentApp,
	)
	return nil, nil
}

// InitializeArchiver builds the bus-to-ClickHouse archiver.
func InitializeArchiver(cfg *config.Config) (*server.ArchiverApp, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		ProvideClickHouseClient,
		ProvideArchiveStore,
		ProvideBusConsumer,

		ProvideOrderHistory,
		ProvideArchiverServer,
		ProvideArchiverApp,
	)
	return nil, nil
}
