//go:build wireinject
// +build wireinject

package di

import (
	domrepo "EventArb/internal/domain/repository"
	"EventArb/pkg/config"
	"EventArb/pkg/metrics"
	"EventArb/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Metrics
		ProvideMetrics,
		wire.Bind(new(domrepo.Metrics), new(*metrics.Recorder)),

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideRedisClient,
		ProvidePostgresClient,
		ProvideClickHouseClient,
		ProvideKafkaConsumer,

		// Repositories
		ProvideFireLedger,
		ProvideCloseClaims,
		ProvideDailyStateStore,
		ProvideEventSource,
		ProvideTradeStore,
		ProvideFillPublisher,

		// Exchange and notifications
		ProvidePriceCache,
		ProvidePriceStream,
		ProvideExchange,
		ProvideNotifiers,

		// Use cases
		ProvideAlerter,
		ProvideRiskManager,
		ProvideExecutor,
		ProvidePlanner,
		ProvideOrchestrator,
		ProvideScheduler,
		ProvideTradeService,
		ProvideEventChangesHandler,

		// Application server
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
