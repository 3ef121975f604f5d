package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	apiPkg "github.com/deskpipe-io/deskpipe/internal/api"
	"github.com/deskpipe-io/deskpipe/internal/app"
	"github.com/deskpipe-io/deskpipe/internal/config"
	"github.com/deskpipe-io/deskpipe/internal/logring"
	"github.com/deskpipe-io/deskpipe/internal/notify"
	"github.com/deskpipe-io/deskpipe/internal/store"
	"github.com/deskpipe-io/deskpipe/internal/tasks"
	"github.com/deskpipe-io/deskpipe/internal/triage"
	"github.com/deskpipe-io/deskpipe/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Load config (2 modes: file, env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose || cfg.Server.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	ring := logring.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logring.NewHandler(jsonHandler, ring))

	logger.Info("deskpiped starting", "addr", cfg.Server.Addr(), "log_level", cfg.LogLevelName())

	// 1. Ticket store
	var repo store.Repository
	if cfg.Storage.Path != "" {
		os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755)
		sq, err := store.NewSQLiteRepository(cfg.Storage.Path)
		if err != nil {
			logger.Error("failed to open ticket store", "path", cfg.Storage.Path, "error", err)
			os.Exit(1)
		}
		defer sq.Close()
		repo = sq
		logger.Info("sqlite store opened", "path", cfg.Storage.Path)
	} else {
		repo = store.NewMemoryRepository()
		logger.Info("using in-memory store")
	}

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 2. Event fabric
	hub := ws.NewHub(logger.With("component", "ws"))

	// 3. Classifier. No service URL means tickets wait in INBOX for
	// manual triage.
	var classifier triage.Classifier
	if cfg.AI.ServiceURL != "" {
		classifier = triage.NewClient(cfg.AI.ServiceURL)
		logger.Info("ai triage enabled", "url", cfg.AI.ServiceURL)
	} else {
		logger.Warn("no ai service configured, tickets require manual triage")
	}

	// 4. Application core
	notifier := notify.New(cfg.Webhooks.ResolutionWebhookURL, cfg.Webhooks.CodingAgentURL,
		logger.With("component", "notify"))
	a := app.New(app.Options{
		Repo:       repo,
		Classifier: classifier,
		Bus:        hub,
		Notifier:   notifier,
		MirrorURL:  cfg.Webhooks.EventMirrorURL,
		Logger:     logger,
	})

	// 5. Background auto-close
	closer := &tasks.AutoCloser{
		Repo:   repo,
		Queues: a.Queues,
		Events: a.Events,
		Logger: logger.With("component", "autoclose"),
	}
	go safeGo(logger, "autoclose", func() { closer.Start(ctx) })

	// 6. API server
	srv := apiPkg.NewServer(a, hub, apiPkg.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
		Key:  cfg.Server.APIKey,
	}, logger.With("component", "api"), ring)

	go safeGo(logger, "api-server", func() { srv.Start(ctx) })
	logger.Info("api server started", "port", cfg.Server.Port)

	<-ctx.Done()
	logger.Info("received signal, shutting down")
	logger.Info("deskpiped stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
