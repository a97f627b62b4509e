package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"TradePilot/internal/config"
	"TradePilot/internal/exchange"
	"TradePilot/internal/metrics"
	"TradePilot/internal/notifier"
	"TradePilot/internal/recorder"
	"TradePilot/internal/scheduler"
	"TradePilot/internal/state"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] TradePilot starting...")

	// Local .env, if present
	if err := godotenv.Load(); err == nil {
		log.Println("[INFO] loaded .env")
	}

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	// Init exchange client
	client := exchange.NewPaperClient()
	log.Printf("[INFO] exchange client: %s (%s)", client.Name(), cfg.Exchange.Symbol)

	// Init Telegram notifier
	var tn notifier.Notifier
	var telegram *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		telegram = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		tn = telegram
	} else {
		log.Println("[WARN] Telegram not configured, notifications disabled")
		tn = notifier.NewNoop()
	}

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	// Init state store
	if dir := filepath.Dir(cfg.State.File); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("[FATAL] create state dir: %v", err)
		}
	}
	store, err := state.Open(cfg.State.File)
	if err != nil {
		log.Fatalf("[FATAL] open state store: %v", err)
	}

	// Metrics listener
	metrics.Serve(cfg.Metrics.Addr)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, cfg, client, tn, rec, store)
	if err := sched.Start(); err != nil {
		log.Fatalf("[FATAL] start scheduler: %v", err)
	}

	// Start Telegram polling
	if telegram != nil {
		go telegram.StartPolling(ctx, sched.HandleCommand)
		log.Println("[INFO] Telegram polling started")
	}

	// Optional: run a candle refresh immediately on start
	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, refreshing candles now")
		go sched.RunNow()
	}

	log.Println("[INFO] TradePilot is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
	sched.Stop()
	log.Println("[INFO] TradePilot stopped")
}
