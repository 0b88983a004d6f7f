// Package app initializes and holds the long-lived services of the
// worker, acting as a dependency injection container. Everything is
// wired once at startup and fails fast when a backend is unreachable.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/moodgrid/blockwell/internal/api"
	"github.com/moodgrid/blockwell/internal/clock/system"
	"github.com/moodgrid/blockwell/internal/config"
	"github.com/moodgrid/blockwell/internal/discover"
	"github.com/moodgrid/blockwell/internal/id/uuid"
	"github.com/moodgrid/blockwell/internal/logging"
	"github.com/moodgrid/blockwell/internal/media"
	"github.com/moodgrid/blockwell/internal/metrics"
	"github.com/moodgrid/blockwell/internal/queue"
	"github.com/moodgrid/blockwell/internal/render"
	"github.com/moodgrid/blockwell/internal/scheduler"
	"github.com/moodgrid/blockwell/internal/store"
	"github.com/moodgrid/blockwell/internal/worker"
)

// shutdownGrace bounds how long Close waits for in-flight work.
const shutdownGrace = 30 * time.Second

// App holds the shared services: broker, renderer, stores, producer,
// the queue consumers and the ops HTTP server.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	broker   *queue.AMQPBroker
	renderer *render.Chromedp
	stores   *store.Stores
	producer *queue.Producer

	consumers []*queue.Consumer
	scheduler *scheduler.Scheduler
	server    *api.Server
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Producer returns the job producer, used by one-shot commands.
func (a *App) Producer() *queue.Producer {
	return a.producer
}

// Stores exposes the persistence layer.
func (a *App) Stores() *store.Stores {
	return a.stores
}

// New wires every service from the configuration. Backends are dialed
// eagerly so a misconfigured worker dies at startup, not mid-sweep.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	a.broker, err = queue.DialAMQP(cfg.Broker.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	a.stores, err = store.New(ctx, store.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime(),
	}, uuid.NewGenerator(), system.New())
	if err != nil {
		a.broker.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	clk := system.New()
	a.producer = queue.NewProducer(a.broker, uuid.NewGenerator(), clk, logger)
	a.scheduler = scheduler.New(a.stores.Sources, a.producer, clk, cfg.SchedulerTick(), logger)
	a.server = api.NewServer(cfg.Server.Port, logger)
	return a, nil
}

// InitWorker builds the render, media and consumer services on top of
// the base wiring. The scheduler process skips this so it never spawns
// a browser it will not use.
func (a *App) InitWorker(ctx context.Context) error {
	renderer, err := render.New(render.Config{
		UserAgent:      a.cfg.Render.UserAgent,
		MaxConcurrency: a.cfg.Render.MaxConcurrency,
		DomainQPS:      a.cfg.Render.DomainQPS,
		Headless:       a.cfg.Render.Headless,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}
	a.renderer = renderer

	objects, err := media.NewMinioStore(ctx, media.MinioConfig{
		Endpoint:  a.cfg.Storage.Endpoint,
		AccessKey: a.cfg.Storage.AccessKey,
		SecretKey: a.cfg.Storage.SecretKey,
		UseSSL:    a.cfg.Storage.UseSSL,
		Bucket:    a.cfg.Storage.Bucket,
	})
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}
	mediaStore := media.NewStore(objects, nil, a.cfg.Storage.Referer, a.logger)

	clk := system.New()
	sweep := worker.NewSweepHandler(a.stores.Sources, a.stores.Runs, renderer, a.producer, worker.SweepConfig{
		StateRoot:        a.cfg.Sweep.StateRoot,
		TailMaxItems:     a.cfg.Sweep.TailMaxItems,
		BackfillMaxItems: a.cfg.Sweep.BackfillMaxItems,
		Scroll: discover.ScrollPolicy{
			Steps:      a.cfg.Sweep.ScrollSteps,
			WaitMS:     a.cfg.Sweep.ScrollWaitMS,
			UntilIdle:  a.cfg.Sweep.ScrollUntilIdle,
			IdleRounds: a.cfg.Sweep.ScrollIdleRounds,
		},
		RenderTimeout: a.cfg.RenderTimeout(),
	}, a.logger)
	item := worker.NewItemHandler(renderer, mediaStore, a.stores.Blocks, a.stores.Runs, worker.ItemConfig{
		RenderTimeout: a.cfg.RenderTimeout(),
	}, a.logger)

	a.consumers = []*queue.Consumer{
		queue.NewConsumer(a.broker, queue.QueueSweepTail, sweep.Handle, clk, a.logger, a.cfg.Workers.Sweep),
		queue.NewConsumer(a.broker, queue.QueueSweepBackfill, sweep.Handle, clk, a.logger, a.cfg.Workers.Sweep),
		queue.NewConsumer(a.broker, queue.QueueItems, item.Handle, clk, a.logger, a.cfg.Workers.Item),
	}
	return nil
}

// RunWorker serves the ops endpoints and drives the queue consumers
// until the context is canceled.
func (a *App) RunWorker(ctx context.Context) error {
	if len(a.consumers) == 0 {
		return errors.New("worker services not initialized")
	}
	return a.run(ctx, func(ctx context.Context, errs chan<- error) {
		for _, c := range a.consumers {
			go func() { errs <- c.Run(ctx) }()
		}
	})
}

// RunScheduler serves the ops endpoints and runs the sweep scheduler
// until the context is canceled.
func (a *App) RunScheduler(ctx context.Context) error {
	return a.run(ctx, func(ctx context.Context, errs chan<- error) {
		go func() { errs <- a.scheduler.Run(ctx) }()
	})
}

func (a *App) run(ctx context.Context, start func(context.Context, chan<- error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 8)
	go func() { errs <- a.server.Start() }()
	start(ctx, errs)

	err := <-errs
	cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close tears services down in dependency order: stop accepting work,
// let in-flight jobs finish, then release the renderer, broker and
// database pool.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("ops server shutdown", zap.Error(err))
		}
	}
	if a.renderer != nil {
		if err := a.renderer.Close(ctx); err != nil {
			a.logger.Warn("renderer shutdown", zap.Error(err))
		}
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Warn("broker shutdown", zap.Error(err))
		}
	}
	if a.stores != nil {
		a.stores.Close()
	}
	_ = a.logger.Sync()
}
