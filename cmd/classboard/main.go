package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/classboard/internal/application"
	"github.com/example/classboard/internal/broker"
	"github.com/example/classboard/internal/config"
	httptransport "github.com/example/classboard/internal/http"
	"github.com/example/classboard/internal/persistence/sqlstore"
	"github.com/example/classboard/internal/realtime"
	"github.com/example/classboard/internal/scheduler"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("classboard stopped with error", "error", err)
		os.Exit(1)
	}
}

// app is the wired service: storage, realtime plumbing, services and router.
type app struct {
	store       *sqlstore.Store
	feed        realtime.Feed
	publisher   broker.Publisher
	consumer    broker.Consumer
	hub         *realtime.Hub
	relay       *broker.Relay
	classboard  *application.ClassboardService
	adjustments *application.AdjustmentService
	handler     http.Handler
	closers     []io.Closer
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close(logger)
		}
	}()

	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if cfg.RedisAddr != "" {
		feed := realtime.NewRedisFeed(realtime.NewRedisClient(realtime.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), "", logger)
		a.closers = append(a.closers, feed)
		if err := feed.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		a.feed = feed
	} else {
		feed := realtime.NewMemoryFeed(64)
		a.closers = append(a.closers, feed)
		a.feed = feed
	}

	if cfg.AMQPURL != "" {
		amqpCfg := broker.AMQPConfig{URL: cfg.AMQPURL}
		publisher := broker.NewAMQPPublisher(amqpCfg, logger)
		a.closers = append(a.closers, publisher)
		a.publisher = publisher
		a.consumer = broker.NewAMQPConsumer(amqpCfg, logger)
	} else {
		bus := broker.NewLocalBus(256)
		a.closers = append(a.closers, bus)
		a.publisher = bus
		a.consumer = bus
	}

	now := time.Now
	loader := newBookingLoaderAdapter(store, defaultBoardWindow, now)
	a.hub = realtime.NewHub(loader, logger)
	a.relay = broker.NewRelay(loader, a.feed, logger)

	deps := application.ClassboardDeps{
		Schedules:   newScheduleReaderAdapter(store),
		Schools:     newSchoolDirectoryAdapter(store, cfg.Timezone),
		Events:      newEventStoreAdapter(store, now),
		Tracker:     a.hub,
		Publisher:   a.publisher,
		IDGenerator: uuid.NewString,
		Now:         now,
		Logger:      logger,
	}
	serviceCfg := application.ClassboardConfig{
		GapMinutes:   cfg.GapMinutes,
		Locked:       cfg.CascadeLocked,
		TeacherOrder: cfg.TeacherOrder,
		FirstSlot:    cfg.FirstSlot,
		CacheTTL:     cfg.CacheTTL,
		SessionTTL:   cfg.SessionTTL,
	}
	a.classboard = application.NewClassboardService(deps, serviceCfg)
	a.adjustments = application.NewAdjustmentService(deps, serviceCfg, scheduler.NewRegistry(), a.classboard.InvalidateSchool)

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Classboard:  httptransport.NewClassboardHandler(a.classboard, a.hub, logger),
		Events:      httptransport.NewEventHandler(a.classboard, logger),
		Adjustments: httptransport.NewAdjustmentHandler(a.adjustments, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.Recoverer(logger),
		},
	})
	return a, nil
}

func (a *app) close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.Error("failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	var resyncer *realtime.Resyncer
	if cfg.ResyncSchedule != "" {
		resyncer, err = realtime.NewResyncer(a.hub, cfg.ResyncSchedule, time.Minute, logger)
		if err != nil {
			return err
		}
		resyncer.Start()
	}

	// Streams stay open indefinitely, so there is no write timeout.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("classboard API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server encountered error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return ignoreCanceled(a.hub.Run(groupCtx, a.feed))
	})
	group.Go(func() error {
		return ignoreCanceled(a.consumer.Consume(groupCtx, a.relay.Handle))
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if resyncer != nil {
			resyncer.Stop(shutdownCtx)
		}
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
