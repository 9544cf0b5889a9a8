package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opsdeck/missiond/internal/config"
	"github.com/opsdeck/missiond/internal/controller"
	"github.com/opsdeck/missiond/internal/logging"
	"github.com/opsdeck/missiond/internal/runner"
	"github.com/opsdeck/missiond/internal/scheduler"
	"github.com/opsdeck/missiond/internal/statefile"
	"github.com/opsdeck/missiond/internal/store"
	"github.com/opsdeck/missiond/internal/telemetry"
	"github.com/opsdeck/missiond/internal/template"
	"github.com/opsdeck/missiond/internal/web"
	"github.com/opsdeck/missiond/internal/web/api"
)

func main() {
	// Check for subcommands before flag parsing.
	if len(os.Args) > 1 && os.Args[1] == "watchdog" {
		os.Exit(runWatchdog(os.Args[2:]))
	}

	configPath := flag.String("config", "missiond.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalw("failed to create data directory", "dir", cfg.DataDir, "error", err)
	}
	if err := os.MkdirAll(cfg.TemplatesDir, 0755); err != nil {
		log.Fatalw("failed to create templates directory", "dir", cfg.TemplatesDir, "error", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "missiond.db")
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalw("failed to open store", "path", dbPath, "error", err)
	}
	defer st.Close()
	log.Infow("store opened", "path", dbPath)

	ctrl := controller.New(st, time.Now, log)
	if n, err := ctrl.RecoverInterrupted(context.Background()); err != nil {
		log.Fatalw("failed to recover interrupted missions", "error", err)
	} else if n > 0 {
		log.Infow("recovered interrupted missions", "count", n)
	}

	templates := template.NewRepository(cfg.TemplatesDir, log)

	events := telemetry.NewBroker()
	sink := telemetry.Multi{events, telemetry.LogSink{Log: log}}

	watcher, err := template.NewWatcher(cfg.TemplatesDir, sink, log)
	if err != nil {
		log.Warnw("template watcher unavailable", "dir", cfg.TemplatesDir, "error", err)
	} else {
		defer watcher.Close()
	}

	interval, err := cfg.Scheduler.ParseInterval()
	if err != nil {
		log.Fatalw("invalid scheduler interval", "interval", cfg.Scheduler.Interval, "error", err)
	}

	sched := scheduler.New(scheduler.Config{
		Controller:    ctrl,
		Executor:      runner.NewShellExecutor(),
		Telemetry:     sink,
		States:        statefile.New(cfg.Scheduler.StateFile, log),
		Runs:          st,
		Logger:        log,
		Interval:      interval,
		MaxConcurrent: cfg.Scheduler.MaxConcurrentRuns(),
	})

	missionsEnabled := cfg.Features.MissionsEnabled()
	schedulerAPIEnabled := cfg.Features.SchedulerAPIEnabled()
	if missionsEnabled {
		sched.Start()
	} else {
		log.Infow("missions feature disabled; scheduler not started")
	}

	srv := web.NewServer(cfg.Listen, &api.API{
		Log:                 log,
		Controller:          ctrl,
		Templates:           templates,
		Scheduler:           sched,
		Runs:                st,
		Events:              events,
		GetConfig:           func() *config.Config { return cfg },
		MissionsEnabled:     missionsEnabled,
		SchedulerAPIEnabled: schedulerAPIEnabled,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("http server error", "error", err)
		}
	}()

	log.Infow("missiond started", "listen", cfg.Listen)

	<-sigCh
	log.Infow("shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http server shutdown error", "error", err)
	}

	log.Infow("missiond stopped")
}
