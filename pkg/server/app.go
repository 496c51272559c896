package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"EventArb/internal/service/exchange"
	"EventArb/internal/usecase"
	"EventArb/pkg/config"
	xhttp "EventArb/pkg/http"
	pkgkafka "EventArb/pkg/kafka"
	applogger "EventArb/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg          *config.Config
	log          *applogger.Logger
	scheduler    *usecase.Scheduler
	alerter      *usecase.Alerter
	stream       *exchange.PriceStream
	consumer     *pkgkafka.Consumer
	eventChanges pkgkafka.MessageHandler
	httpServer   *xhttp.Server
	closers      []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// New creates a new App instance with all dependencies. stream and consumer
// may be nil.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	scheduler *usecase.Scheduler,
	alerter *usecase.Alerter,
	stream *exchange.PriceStream,
	consumer *pkgkafka.Consumer,
	eventChanges pkgkafka.MessageHandler,
	httpServer *xhttp.Server,
) *App {
	if log == nil {
		log = applogger.Nop()
	}
	return &App{
		cfg:          cfg,
		log:          log.With(applogger.String("component", "app")),
		scheduler:    scheduler,
		alerter:      alerter,
		stream:       stream,
		consumer:     consumer,
		eventChanges: eventChanges,
		httpServer:   httpServer,
	}
}

// OnClose registers an infrastructure client closed after every worker has
// stopped, in reverse registration order.
func (a *App) OnClose(name string, c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, namedCloser{name: name, c: c})
	}
}

// Run starts every worker and blocks until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	bg, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	if a.stream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.stream.Run(bg)
		}()
		a.log.Info("price stream started", applogger.Strings("symbols", a.cfg.Exchange.Symbols))
	}

	if a.alerter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.alerter.RunSweep(bg, a.cfg.Alerts.Sweep)
		}()
	}

	if a.consumer != nil && a.eventChanges != nil {
		a.consumer.RegisterHandler(a.eventChanges)
		if err := a.consumer.Start(); err != nil {
			return a.abort(cancel, &wg, fmt.Errorf("start kafka consumer: %w", err))
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.eventChanges.Topic()))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.scheduler.Run(bg)
	}()
	a.log.Info("scheduler started",
		applogger.Duration("poll_interval", a.cfg.Scheduler.PollInterval),
		applogger.Duration("horizon", a.cfg.Scheduler.Horizon),
		applogger.Bool("simulation", a.cfg.Execution.Simulation),
	)

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return a.abort(cancel, &wg, fmt.Errorf("start http server: %w", err))
		}
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	cancel()
	wg.Wait()
	return a.shutdown()
}

// abort unwinds a partial start through the regular shutdown path.
func (a *App) abort(cancel context.CancelFunc, wg *sync.WaitGroup, cause error) error {
	a.log.Error("startup failed", applogger.Error(cause))
	cancel()
	wg.Wait()
	return errors.Join(cause, a.shutdown())
}

// shutdown stops intake first (HTTP, Kafka), then lets in-flight fires
// finish before closing clients.
func (a *App) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if err := a.scheduler.Shutdown(ctx); err != nil {
		a.log.Error("scheduler shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("client", nc.name), applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
