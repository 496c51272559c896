//go:build !wireinject
// +build !wireinject

package di

import (
	"EventArb/pkg/config"
	"EventArb/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// It mirrors the provider set in wire.go; running wire there replaces this
// file.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	recorder := ProvideMetrics()
	producer, err := ProvideKafkaProducer(cfg)
	if err != nil {
		return nil, err
	}
	logger, err := ProvideLogger(cfg, producer)
	if err != nil {
		return nil, err
	}
	client, err := ProvideRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	postgresClient, err := ProvidePostgresClient(cfg)
	if err != nil {
		return nil, err
	}
	clickhouseClient, err := ProvideClickHouseClient(cfg)
	if err != nil {
		return nil, err
	}
	consumer, err := ProvideKafkaConsumer(cfg, logger)
	if err != nil {
		return nil, err
	}
	fireLedger := ProvideFireLedger(client, cfg)
	closeClaims := ProvideCloseClaims(client, cfg)
	dailyStateStore := ProvideDailyStateStore(client, cfg)
	eventSource, err := ProvideEventSource(postgresClient)
	if err != nil {
		return nil, err
	}
	clickHouseTradeStore := ProvideTradeStore(clickhouseClient, cfg)
	fillPublisher := ProvideFillPublisher(producer, cfg)
	priceCache := ProvidePriceCache()
	priceStream := ProvidePriceStream(cfg, priceCache, logger)
	exchangeClient := ProvideExchange(cfg, priceCache)
	v := ProvideNotifiers(cfg, logger)
	alerter := ProvideAlerter(cfg, v, recorder, logger)
	riskManager := ProvideRiskManager(cfg, dailyStateStore, clickHouseTradeStore, recorder, logger)
	executor := ProvideExecutor(cfg, exchangeClient, recorder, logger)
	planner := ProvidePlanner(cfg)
	orchestrator := ProvideOrchestrator(planner, exchangeClient, riskManager, executor, clickHouseTradeStore, fillPublisher, alerter, logger)
	scheduler := ProvideScheduler(cfg, eventSource, fireLedger, orchestrator, alerter, recorder, logger)
	tradeService := ProvideTradeService(cfg, clickHouseTradeStore, closeClaims, riskManager, logger)
	eventChangesHandler := ProvideEventChangesHandler(cfg, scheduler, logger)
	httpServer := ProvideHTTPServer(cfg, riskManager, scheduler, executor, tradeService, logger)
	app := ProvideApp(cfg, logger, scheduler, alerter, priceStream, consumer, eventChangesHandler, httpServer, producer, client, postgresClient, clickhouseClient)
	return app, nil
}
