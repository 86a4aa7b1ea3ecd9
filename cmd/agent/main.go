package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"sessiontrack/internal/backend"
	"sessiontrack/internal/config"
	"sessiontrack/internal/device"
	"sessiontrack/internal/handlers"
	"sessiontrack/internal/jobs"
	"sessiontrack/internal/localstate"
	"sessiontrack/internal/log"
	"sessiontrack/internal/server"
	"sessiontrack/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	local, err := localstate.OpenDir(cfg.LocalState.Dir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.LocalState.Dir).Msg("failed to open local state")
	}

	be, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open remote store")
	}

	channel, notifyPingers, err := backend.Notifier(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init notifications")
	}

	scheduler := jobs.NewScheduler(log.Component(logger, "scheduler"))
	scheduler.Start()

	hub := handlers.NewEventHub(log.Component(logger, "page"))
	signals := device.Detect(device.Signals{
		UserAgent:    cfg.Device.UserAgent,
		Platform:     cfg.Device.Platform,
		Language:     cfg.Device.Language,
		Timezone:     cfg.Device.Timezone,
		ScreenWidth:  cfg.Device.ScreenWidth,
		ScreenHeight: cfg.Device.ScreenHeight,
	})

	coordinator := tracker.New(cfg.Tracker, tracker.Deps{
		Store:     be.Store,
		Notify:    channel,
		Local:     local,
		Presenter: hub,
		Timers:    scheduler,
		Signals:   signals,
		Log:       logger,
	})

	initCtx, cancel := context.WithTimeout(ctx, cfg.Tracker.RemoteTimeout)
	if err := coordinator.Init(initCtx); err != nil {
		var transient *tracker.TransientError
		if errors.As(err, &transient) {
			logger.Warn().Err(err).Msg("session validation deferred")
		} else {
			logger.Warn().Err(err).Msg("no valid session; waiting for sign-in")
		}
	}
	cancel()

	pingers := append(be.Pingers, notifyPingers...)
	pages := handlers.NewPageHandlers(logger, cfg, coordinator, local, hub, pingers...)
	httpServer := server.NewHTTPServer(cfg, cfg.HTTP, logger, pages)

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	waitForShutdown(logger, httpServer, coordinator, scheduler, be)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, coordinator *tracker.Coordinator, scheduler *jobs.Scheduler, be *backend.Backend) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coordinator.Destroy(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("scheduler jobs still running at exit")
	}

	be.Close()
	logger.Info().Msg("agent exited cleanly")
}
