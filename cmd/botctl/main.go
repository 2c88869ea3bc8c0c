// botctl is the operator tool for the bot state store: seed bot definitions
// from YAML, request a stop and inspect a bot's document and recent trades.
//
// Usage:
//
//	botctl seed --file bot.yaml [--user-id U] [--api-key K --api-secret S]
//	botctl stop --bot-id ID
//	botctl show --bot-id ID
//
// STORE_PATH selects the database (default data/atr_dipbot.db); a .env file
// is honored.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/eddiefleurent/atr_dipbot/internal/config"
	"github.com/eddiefleurent/atr_dipbot/internal/exchange"
	"github.com/eddiefleurent/atr_dipbot/internal/models"
	"github.com/eddiefleurent/atr_dipbot/internal/storage"
)

const defaultStorePath = "data/atr_dipbot.db"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: botctl <seed|stop|show> [flags]")
	}

	_ = godotenv.Load()
	storePath := os.Getenv("STORE_PATH")
	if storePath == "" {
		storePath = defaultStorePath
	}

	store, err := storage.NewStore(storePath)
	if err != nil {
		return fmt.Errorf("opening store %s: %w", storePath, err)
	}
	defer func() { _ = store.Close() }()

	switch args[0] {
	case "seed":
		return seed(store, args[1:])
	case "stop":
		return requestStop(store, args[1:])
	case "show":
		return show(store, args[1:])
	default:
		return fmt.Errorf("unknown command %q, want seed, stop or show", args[0])
	}
}

// seed installs a bot document from a YAML definition, optionally together
// with exchange credentials for its user.
func seed(store *storage.Store, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	file := fs.String("file", "", "YAML bot definition (required)")
	userID := fs.String("user-id", "default", "owning user id")
	apiKey := fs.String("api-key", "", "exchange API key (optional)")
	apiSecret := fs.String("api-secret", "", "exchange API secret (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("--file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	cfg, err := config.ParseYAML(data)
	if err != nil {
		return err
	}
	if cfg.BotID == "" {
		return fmt.Errorf("bot definition missing bot_id")
	}
	if !exchange.Supported(cfg.Exchange) {
		return fmt.Errorf("exchange %q has no gateway", cfg.Exchange)
	}

	rawCfg, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := store.SaveBot(&storage.BotDocument{
		BotID:  cfg.BotID,
		UserID: *userID,
		Status: models.StatusCreated,
		Config: rawCfg,
	}); err != nil {
		return err
	}
	fmt.Printf("seeded bot %s (%s %s)\n", cfg.BotID, cfg.Exchange, cfg.Trading.Symbol)

	if *apiKey != "" || *apiSecret != "" {
		if err := store.SaveExchangeConnection(&models.ExchangeConnection{
			UserID:    *userID,
			Exchange:  cfg.Exchange,
			APIKey:    *apiKey,
			APISecret: *apiSecret,
			Status:    models.ConnectionActive,
		}); err != nil {
			return err
		}
		fmt.Printf("stored %s credentials for user %s\n", cfg.Exchange, *userID)
	}
	return nil
}

// requestStop flips the stored status to STOPPED; the running worker picks it
// up at its next config check.
func requestStop(store *storage.Store, args []string) error {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	botID := fs.String("bot-id", "", "bot identifier (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *botID == "" {
		return fmt.Errorf("--bot-id is required")
	}

	if err := store.UpdateStatus(*botID, models.StatusStopped, ""); err != nil {
		return err
	}
	fmt.Printf("stop requested for bot %s\n", *botID)
	return nil
}

// show prints the bot document, its open positions and recent trades.
func show(store *storage.Store, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	botID := fs.String("bot-id", "", "bot identifier (required)")
	tradeLimit := fs.Int("trades", 10, "number of recent trades to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *botID == "" {
		return fmt.Errorf("--bot-id is required")
	}

	doc, err := store.GetBot(*botID)
	if err != nil {
		return err
	}
	fmt.Printf("bot %s: %s (%s)\n", doc.BotID, doc.Status, models.StatusDescription(doc.Status))
	if doc.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", doc.ErrorMessage)
	}
	if doc.LastHeartbeat != nil {
		fmt.Printf("  last heartbeat: %s\n", doc.LastHeartbeat)
	}
	if doc.Performance != nil {
		fmt.Printf("  realized pnl: %.2f  unrealized: %.2f  trades today: %d  win rate: %.0f%%\n",
			doc.Performance.TotalRealizedPnL, doc.Performance.TotalUnrealizedPnL,
			doc.Performance.TradesToday, doc.Performance.WinRate*100)
	}

	open, err := store.GetOpenPositions(*botID)
	if err != nil {
		return err
	}
	fmt.Printf("open positions: %d\n", len(open))
	for _, pos := range open {
		fmt.Printf("  %s %s qty=%g entry=%.4f target=%.4f stop=%.4f\n",
			pos.ID, pos.Symbol, pos.Quantity, pos.EntryPrice, pos.TargetPrice, pos.StopLoss)
	}

	trades, err := store.GetBotTrades(*botID, *tradeLimit)
	if err != nil {
		return err
	}
	fmt.Printf("recent trades: %d\n", len(trades))
	for _, t := range trades {
		fmt.Printf("  %s %s %s entry=%.4f exit=%.4f net=%.2f (%s)\n",
			t.ClosedAt.Format("2006-01-02 15:04"), t.Symbol, t.Side,
			t.EntryPrice, t.ExitPrice, t.NetPnL, t.ExitReason)
	}
	return nil
}
