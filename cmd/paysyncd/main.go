package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/api"
	"github.com/dvloznov/paysync/internal/config"
	"github.com/dvloznov/paysync/internal/connectivity"
	"github.com/dvloznov/paysync/internal/events"
	"github.com/dvloznov/paysync/internal/history"
	"github.com/dvloznov/paysync/internal/kvstore"
	"github.com/dvloznov/paysync/internal/logger"
	"github.com/dvloznov/paysync/internal/queue"
	"github.com/dvloznov/paysync/internal/remote"
	"github.com/dvloznov/paysync/internal/session"
	"github.com/dvloznov/paysync/internal/submission"
	"github.com/dvloznov/paysync/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Flags override the environment.
	flag.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "control API listen address")
	flag.StringVar(&cfg.Storage, "storage", cfg.Storage, "queue storage backend: file, memory, gcs or postgres")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for file storage")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flag.BoolVar(&cfg.LogConsole, "log-console", cfg.LogConsole, "human readable log output")
	flag.BoolVar(&cfg.EnableHistory, "history", cfg.EnableHistory, "record outcomes to BigQuery")
	flag.Parse()

	log, err := logger.NewWithLevel(cfg.LogLevel, cfg.LogConsole)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Invalid log level")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, closeStore, err := kvstore.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("storage", cfg.Storage).Msg("Failed to open storage")
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	sessions, err := session.LoadPersistentStore(ctx, store, logger.Component(log, "session"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load session")
	}
	if cfg.AuthToken != "" {
		if err := sessions.SetToken(ctx, cfg.AuthToken); err != nil {
			log.Fatal().Err(err).Msg("Failed to store session token")
		}
	}

	// Events
	fanout := events.NewFanout(events.LogListener{Log: logger.Component(log, "events")})

	var historyRepo *history.BigQueryRepository
	var recorder *history.Recorder
	if cfg.EnableHistory {
		historyRepo, err = history.NewBigQueryRepository(ctx, cfg.HistoryProject, cfg.HistoryDataset, cfg.HistoryTable)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create history repository")
		}
		if err := historyRepo.EnsureTable(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare history table")
		}
		recorder = history.NewRecorder(historyRepo, history.RecorderConfig{}, logger.Component(log, "history"))
		fanout.Add(recorder)
		log.Info().
			Str("project", cfg.HistoryProject).
			Str("dataset", cfg.HistoryDataset).
			Str("table", cfg.HistoryTable).
			Msg("Recording submission history")
	}

	// Core components
	client := remote.NewClient(cfg.APIBaseURL, sessions,
		remote.WithTimeout(cfg.CallTimeout),
		remote.WithLogger(logger.Component(log, "remote")),
	)

	monitor := connectivity.NewMonitor(
		connectivity.NewHTTPProbe(cfg.ProbeURL, cfg.ProbeTimeout),
		connectivity.Config{Timeout: cfg.ProbeTimeout, Confirmations: cfg.Confirmations},
		logger.Component(log, "connectivity"),
	)
	unsubscribeConn := monitor.Subscribe(fanout.OnConnectivityChange)
	defer unsubscribeConn()

	trackers := tracker.NewManager(client, fanout,
		tracker.Config{CallTimeout: cfg.CallTimeout},
		cfg.PollInterval, cfg.PollMaxAttempts,
		logger.Component(log, "tracker"),
	)

	txQueue := queue.New(store,
		queue.WithLogger(logger.Component(log, "queue")),
		queue.WithObserver(fanout.OnQueueChanged),
	)
	if _, err := txQueue.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to recover queue")
	}

	worker, err := submission.NewWorker(submission.Deps{
		Store:        txQueue,
		Remote:       client,
		Connectivity: monitor,
		Session:      sessions,
		Tracking:     trackers,
		Listener:     fanout,
	}, submission.Config{
		MaxAttempts: cfg.MaxSubmitAttempts,
		CallTimeout: cfg.CallTimeout,
		Backoff:     submission.NewExponentialBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay),
	}, logger.Component(log, "submission"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create submission worker")
	}

	monitor.Start(ctx, cfg.ProbeInterval)
	worker.Start(ctx)

	// Control API
	services := api.Services{
		Queue:        txQueue,
		Worker:       worker,
		Connectivity: monitor,
		Trackers:     trackers,
		Session:      sessions,
	}
	if historyRepo != nil {
		services.History = historyRepo
	}

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(services, api.Options{
			ControlKey:    cfg.ControlKey,
			AllowedOrigin: cfg.AllowedOrigin,
		}, logger.Component(log, "api")),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("storage", cfg.Storage).Msg("Starting paysync daemon")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down paysync daemon...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	shutdown(log, worker, monitor, trackers, recorder, historyRepo)
	cancel()

	log.Info().Msg("Paysync daemon exited")
}

// shutdown stops components in dependency order: no new submissions, then no
// probes or polls, then flush history.
func shutdown(log zerolog.Logger, worker *submission.Worker, monitor *connectivity.Monitor, trackers *tracker.Manager, recorder *history.Recorder, repo *history.BigQueryRepository) {
	worker.Stop()
	monitor.Stop()
	trackers.StopAll()

	if recorder != nil {
		recorder.Close()
	}
	if repo != nil {
		if err := repo.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close history repository")
		}
	}
}
