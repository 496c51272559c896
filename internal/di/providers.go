package di

import (
	"context"
	"fmt"
	"time"

	"EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"
	"EventArb/internal/handler/api"
	internalrepo "EventArb/internal/repository"
	"EventArb/internal/service/exchange"
	"EventArb/internal/service/notify"
	"EventArb/internal/service/ratelimit"
	"EventArb/internal/usecase"
	pkgch "EventArb/pkg/clickhouse"
	"EventArb/pkg/config"
	xhttp "EventArb/pkg/http"
	pkgkafka "EventArb/pkg/kafka"
	applogger "EventArb/pkg/logger"
	"EventArb/pkg/metrics"
	pkgpg "EventArb/pkg/postgres"
	pkgredis "EventArb/pkg/redis"
	"EventArb/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// ProvideLogger creates the application logger. Error entries are also
// aggregated to Kafka when a collect topic is configured; the collector must
// be attached before any component derives a child logger.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	log, err := applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Logger.CollectTopic != "" {
		log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logger.CollectEvery,
			CountThreshold: cfg.Logger.CollectMaxKeys,
			Topic:          cfg.Logger.CollectTopic,
			Publisher:      producer,
		})
	}
	return log, nil
}

// ProvideMetrics creates a Prometheus metrics recorder on the default registry.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideRedisClient creates the Redis client backing the fire ledger and
// daily state.
func ProvideRedisClient(cfg *config.Config) (*pkgredis.Client, error) {
	client, err := pkgredis.NewClient(
		pkgredis.WithAddr(cfg.Redis.Addr),
		pkgredis.WithPassword(cfg.Redis.Password),
		pkgredis.WithDB(cfg.Redis.DB),
		pkgredis.WithPool(cfg.Redis.PoolSize, 2, 5*time.Second),
		pkgredis.WithPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	return client, nil
}

// ProvidePostgresClient creates the event catalogue client.
func ProvidePostgresClient(cfg *config.Config) (*pkgpg.Client, error) {
	opts := []pkgpg.Option{
		pkgpg.WithHost(cfg.Postgres.Host, cfg.Postgres.Port),
		pkgpg.WithCredentials(cfg.Postgres.User, cfg.Postgres.Password),
		pkgpg.WithDatabase(cfg.Postgres.Database),
		pkgpg.WithSSLMode(cfg.Postgres.SSLMode),
	}
	if cfg.Postgres.DSN != "" {
		opts = append(opts, pkgpg.WithDSN(cfg.Postgres.DSN))
	}
	client, err := pkgpg.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}
	return client, nil
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the trade
// tables exist.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.TradeSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the event changes consumer.
func ProvideKafkaConsumer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithHook(pkgkafka.TraceHook())
	return consumer, nil
}

// ProvideCloseClaims creates the Redis guard against double trade closes.
func ProvideCloseClaims(client *pkgredis.Client, cfg *config.Config) domrepo.CloseClaims {
	return internalrepo.NewRedisCloseClaims(client, cfg.Scheduler.LedgerRetention)
}

// ProvideFireLedger creates the Redis idempotency ledger.
func ProvideFireLedger(client *pkgredis.Client, cfg *config.Config) domrepo.FireLedger {
	return internalrepo.NewRedisFireLedger(client, cfg.Scheduler.LedgerRetention)
}

// ProvideDailyStateStore creates the Redis daily state store.
func ProvideDailyStateStore(client *pkgredis.Client, cfg *config.Config) domrepo.DailyStateStore {
	return internalrepo.NewRedisDailyStateStore(client, models.DailyLimits{
		MaxTradesPerDay:     cfg.Risk.MaxTradesPerDay,
		DailyLossLimitCents: cfg.Risk.DailyLossLimitCents,
	})
}

// ProvideEventSource creates the Postgres event catalogue and migrates it.
func ProvideEventSource(client *pkgpg.Client) (domrepo.EventSource, error) {
	src := internalrepo.NewPostgresEventSource(client.DB())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := src.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("events migrate: %w", err)
	}
	return src, nil
}

// ProvideTradeStore creates the ClickHouse trade store.
func ProvideTradeStore(client *pkgch.Client, cfg *config.Config) *internalrepo.ClickHouseTradeStore {
	return internalrepo.NewClickHouseTradeStore(client, cfg.ClickHouse.Database)
}

// ProvideFillPublisher creates the Kafka fill publisher.
func ProvideFillPublisher(producer *pkgkafka.Producer, cfg *config.Config) domrepo.FillPublisher {
	return internalrepo.NewKafkaFillPublisher(producer, cfg.Kafka.FillsTopic)
}

// ProvidePriceCache creates the shared last-price cache.
func ProvidePriceCache() *exchange.PriceCache {
	return exchange.NewPriceCache()
}

// ProvidePriceStream creates the market data stream. It returns nil when no
// symbols are configured.
func ProvidePriceStream(cfg *config.Config, cache *exchange.PriceCache, log *applogger.Logger) *exchange.PriceStream {
	if len(cfg.Exchange.Symbols) == 0 || cfg.Exchange.StreamURL == "" {
		return nil
	}
	return exchange.NewPriceStream(
		cfg.Exchange.StreamURL,
		cfg.Exchange.Symbols,
		cache,
		cfg.Exchange.ReconnectDelay,
		cfg.Exchange.PingInterval,
		log,
	)
}

// ProvideExchange creates the exchange REST client.
func ProvideExchange(cfg *config.Config, cache *exchange.PriceCache) *exchange.Client {
	return exchange.New(cfg.Exchange.BaseURL,
		exchange.WithCredentials(cfg.Exchange.APIKey, cfg.Exchange.APISecret),
		exchange.WithTimeout(cfg.Exchange.Timeout),
		exchange.WithRecvWindow(cfg.Exchange.RecvWindowMilli),
		exchange.WithFiltersTTL(cfg.Exchange.FiltersTTL),
		exchange.WithPriceCache(cache, cfg.Exchange.PriceMaxAge),
	)
}

// ProvideNotifiers returns every configured notifier.
func ProvideNotifiers(cfg *config.Config, log *applogger.Logger) []domrepo.Notifier {
	opts := []notify.Option{
		notify.WithTimeout(cfg.Notify.Timeout),
		notify.WithMaxLength(cfg.Notify.MaxLength),
		notify.WithRatePerMinute(cfg.Notify.RatePerMinute),
		notify.WithLogger(log),
	}
	var out []domrepo.Notifier
	tg := notify.NewTelegram(cfg.Notify.Telegram.APIURL, cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID, opts...)
	if tg.Enabled() {
		out = append(out, tg)
	}
	dc := notify.NewDiscord(cfg.Notify.Discord.WebhookURL, opts...)
	if dc.Enabled() {
		out = append(out, dc)
	}
	if len(out) == 0 {
		log.Warn("no alert notifiers configured")
	}
	return out
}

// ProvideAlerter creates the rate-limited alert service.
func ProvideAlerter(cfg *config.Config, notifiers []domrepo.Notifier, m domrepo.Metrics, log *applogger.Logger) *usecase.Alerter {
	rule := func(r config.AlertRule) ratelimit.Rule {
		return ratelimit.Rule{Window: r.Window, Threshold: r.Threshold, Cooldown: r.Cooldown}
	}
	lim := ratelimit.New(map[models.Severity]ratelimit.Rule{
		models.SeverityError:   rule(cfg.Alerts.Error),
		models.SeverityWarning: rule(cfg.Alerts.Warning),
	})
	return usecase.NewAlerter(lim, notifiers, m, log, cfg.Notify.Timeout)
}

// ProvideRiskManager creates the daily risk gate.
func ProvideRiskManager(cfg *config.Config, store domrepo.DailyStateStore, trades *internalrepo.ClickHouseTradeStore, m domrepo.Metrics, log *applogger.Logger) *usecase.RiskManager {
	return usecase.NewRiskManager(store, trades, usecase.RiskConfig{
		StartingCapital: decimal.NewFromFloat(cfg.Risk.StartingCapital),
		MaxDailyLossPct: cfg.Risk.MaxDailyLossPct,
		Location:        cfg.Location(),
		StoreTimeout:    cfg.Risk.StoreTimeout,
	}, m, log)
}

// ProvideExecutor creates the order execution pipeline.
func ProvideExecutor(cfg *config.Config, x *exchange.Client, m domrepo.Metrics, log *applogger.Logger) *usecase.Executor {
	return usecase.NewExecutor(x, usecase.ExecutionConfig{
		Simulation:      cfg.Execution.Simulation,
		MinNotional:     decimal.NewFromFloat(cfg.Execution.MinNotional),
		NotionalMargin:  decimal.NewFromFloat(cfg.Execution.NotionalMargin),
		QtyPrecision:    cfg.Execution.QtyPrecision,
		PricePrecision:  cfg.Execution.PricePrecision,
		TickSize:        decimal.NewFromFloat(cfg.Execution.TickSize),
		MaxNudgeRetries: cfg.Execution.MaxNudgeRetries,
		OrderTimeout:    cfg.Execution.OrderTimeout,
	}, m, log)
}

// ProvidePlanner creates the event action planner.
func ProvidePlanner(cfg *config.Config) *usecase.Planner {
	return usecase.NewPlanner(decimal.NewFromFloat(cfg.Planner.DefaultNotional))
}

// ProvideOrchestrator creates the per-event handler.
func ProvideOrchestrator(
	planner *usecase.Planner,
	x *exchange.Client,
	risk *usecase.RiskManager,
	executor *usecase.Executor,
	trades *internalrepo.ClickHouseTradeStore,
	publisher domrepo.FillPublisher,
	alerter *usecase.Alerter,
	log *applogger.Logger,
) *usecase.Orchestrator {
	return usecase.NewOrchestrator(planner, x, risk, executor, trades, publisher, alerter, log)
}

// ProvideScheduler creates the event scheduler.
func ProvideScheduler(
	cfg *config.Config,
	source domrepo.EventSource,
	ledger domrepo.FireLedger,
	orch *usecase.Orchestrator,
	alerter *usecase.Alerter,
	m domrepo.Metrics,
	log *applogger.Logger,
) *usecase.Scheduler {
	return usecase.NewScheduler(source, ledger, orch, alerter, usecase.SchedulerConfig{
		PollInterval: cfg.Scheduler.PollInterval,
		Horizon:      cfg.Scheduler.Horizon,
		FireWindow:   cfg.Scheduler.FireWindow,
		LoadTimeout:  cfg.Scheduler.LoadTimeout,
		FireTimeout:  cfg.Scheduler.FireTimeout,
	}, m, log)
}

// ProvideTradeService creates the trade close service.
func ProvideTradeService(cfg *config.Config, trades *internalrepo.ClickHouseTradeStore, claims domrepo.CloseClaims, risk *usecase.RiskManager, log *applogger.Logger) *usecase.TradeService {
	return usecase.NewTradeService(trades, claims, risk, cfg.Execution.FeeRateBps, log)
}

// ProvideEventChangesHandler creates the Kafka handler for upstream event edits.
func ProvideEventChangesHandler(cfg *config.Config, scheduler *usecase.Scheduler, log *applogger.Logger) *usecase.EventChangesHandler {
	return usecase.NewEventChangesHandler(cfg.Kafka.EventChangesTopic, scheduler, log)
}

// ProvideHTTPServer creates the ops HTTP server.
func ProvideHTTPServer(
	cfg *config.Config,
	risk *usecase.RiskManager,
	scheduler *usecase.Scheduler,
	executor *usecase.Executor,
	trades *usecase.TradeService,
	log *applogger.Logger,
) *xhttp.Server {
	ops := api.NewOpsEchoHandler(log, risk, scheduler, executor.Stats(), trades)
	return xhttp.NewServer([]xhttp.Handler{ops},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithLogger(log),
	)
}

// ProvideApp creates the application and hands it every client to close.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	scheduler *usecase.Scheduler,
	alerter *usecase.Alerter,
	stream *exchange.PriceStream,
	consumer *pkgkafka.Consumer,
	eventChanges *usecase.EventChangesHandler,
	httpServer *xhttp.Server,
	producer *pkgkafka.Producer,
	redisClient *pkgredis.Client,
	pgClient *pkgpg.Client,
	chClient *pkgch.Client,
) *server.App {
	app := server.New(cfg, log, scheduler, alerter, stream, consumer, eventChanges, httpServer)
	app.OnClose("kafka_producer", producer)
	app.OnClose("redis", redisClient)
	app.OnClose("postgres", pgClient)
	app.OnClose("clickhouse", chClient)
	app.OnClose("log_collector", collectorCloser{log})
	return app
}

type collectorCloser struct{ log *applogger.Logger }

func (c collectorCloser) Close() error {
	c.log.RemoveCollector()
	return nil
}
