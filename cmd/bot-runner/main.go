// bot-runner runs a single bot worker until it stops, is stopped remotely or
// receives a termination signal.
//
// Usage:
//
//	bot-runner --bot-id <ID>
//
// Infrastructure knobs come from the environment (a .env file is honored):
//
//	STORE_PATH   path to the state database (default data/atr_dipbot.db)
//	WEBHOOK_URL  webhook for lifecycle/trade events (optional)
//	LOG_LEVEL    zerolog level name (default info)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/atr_dipbot/internal/notify"
	"github.com/eddiefleurent/atr_dipbot/internal/storage"
	"github.com/eddiefleurent/atr_dipbot/internal/worker"
)

const defaultStorePath = "data/atr_dipbot.db"

func main() {
	os.Exit(run())
}

func run() int {
	botID := flag.String("bot-id", "", "bot identifier to run (required)")
	flag.Parse()

	// Missing .env is fine; the environment may be set by the host.
	_ = godotenv.Load()

	logger := newLogger(os.Getenv("LOG_LEVEL"))

	if *botID == "" {
		logger.Error().Msg("--bot-id is required")
		flag.Usage()
		return 2
	}

	storePath := os.Getenv("STORE_PATH")
	if storePath == "" {
		storePath = defaultStorePath
	}
	store, err := storage.NewStore(storePath)
	if err != nil {
		logger.Error().Err(err).Str("path", storePath).Msg("failed to open state store")
		return 1
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		notifier = notify.NewWebhookNotifier(url, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := worker.NewWorker(*botID, store, notifier, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		// Startup failure: ERROR status is already persisted by the worker.
		logger.Error().Err(err).Msg("worker exited with error")
		_ = store.Close()
		return 1
	}
	return 0
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(lvl)
	if err != nil && level != "" {
		logger.Warn().Msg(fmt.Sprintf("unknown LOG_LEVEL %q, using info", level))
	}
	return logger
}
