package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"pathoflow/config"
	"pathoflow/internal/api"
	"pathoflow/internal/container"
	"pathoflow/internal/domain/port"
	"pathoflow/internal/infrastructure/inference"
	"pathoflow/internal/infrastructure/notify"
	"pathoflow/internal/infrastructure/pyramid"
	"pathoflow/internal/infrastructure/storage"
	"pathoflow/internal/infrastructure/vision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	backends, err := config.LoadBackends(cfg.BackendsFile)
	if err != nil {
		log.Fatalf("Failed to load backends: %v", err)
	}

	// Журнал запусков: sqlite, если задан файл, иначе в памяти
	var (
		runs     port.RunRepository = storage.NewMemoryRunRepository()
		closeDB  func() error
		notifier port.Notifier = notify.NewLog(logger)
	)
	if cfg.RunDB != "" {
		db, err := storage.NewSQLiteRunRepository(cfg.RunDB)
		if err != nil {
			log.Fatalf("Failed to open run database: %v", err)
		}
		runs, closeDB = db, db.Close
	}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			log.Fatalf("Failed to create telegram notifier: %v", err)
		}
		notifier = tg
	}

	appContainer, err := container.New(container.Options{
		ModelsDir:    cfg.ModelsDir,
		PipelinesDir: cfg.PipelinesDir,
		LibraryDir:   cfg.LibraryDir,
		ProjectDir:   cfg.ProjectDir,
		Backends:     backends,
		Advanced:     cfg.AdvancedMode,
		Workers:      cfg.Workers,
	}, container.Ports{
		Runs:     runs,
		Engines:  inference.NewFactory(cfg.ONNXLibrary, logger),
		Opener:   pyramid.NewOpener(cfg.Magnification),
		Ops:      vision.NewOps(),
		Codecs:   storage.Codecs(),
		Notifier: notifier,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}
	if closeDB != nil {
		appContainer.OnClose(closeDB)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cdr := subcommands.NewCommander(flag.CommandLine, os.Args[0])
	api.Register(cdr, appContainer, os.Stdout, os.Stderr)
	flag.Parse()

	status := cdr.Execute(ctx)
	stop()
	if err := appContainer.Close(); err != nil {
		logger.Warn("failed to release resources", "err", err)
	}
	os.Exit(int(status))
}
