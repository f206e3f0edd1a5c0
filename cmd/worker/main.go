package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/whatsapp-ai/wabot/internal/chat"
	"github.com/whatsapp-ai/wabot/internal/config"
	"github.com/whatsapp-ai/wabot/internal/kv"
	"github.com/whatsapp-ai/wabot/internal/worker"
	"github.com/zerodha/logf"
)

var (
	configPath = flag.String("config", "config.toml", "Path to config file")
	envFile    = flag.String("env", ".env", "Path to an optional .env file")
	once       = flag.Bool("once", false, "Run a single retention pass and exit")
)

func main() {
	flag.Parse()

	// Initialize logger
	lo := logf.New(logf.Opts{
		EnableColor:     true,
		Level:           logf.DebugLevel,
		EnableCaller:    true,
		TimestampFormat: "2006-01-02 15:04:05",
		DefaultFields:   []any{"app", "wabot-worker"},
	})

	lo.Info("Starting retention worker...")

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		lo.Warn("Failed to read env file", "path", *envFile, "error", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		lo.Fatal("Failed to load config", "error", err)
	}

	// Set log level based on environment
	if cfg.App.Environment == "production" {
		lo = logf.New(logf.Opts{
			Level:           logf.InfoLevel,
			TimestampFormat: "2006-01-02 15:04:05",
			DefaultFields:   []any{"app", "wabot-worker"},
		})
	}

	if cfg.Storage.Backend == config.StorageMemory {
		lo.Fatal("The retention worker needs a shared storage backend", "backend", cfg.Storage.Backend)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := kv.Open(ctx, cfg, lo)
	if err != nil {
		lo.Fatal("Failed to open storage", "error", err, "backend", cfg.Storage.Backend)
	}
	defer store.Close()

	// This process writes chunks alongside the server. Compaction backs off
	// when it sees a concurrent append; `server -workers` avoids the second
	// writer entirely.
	w := worker.New(chat.NewStore(store, lo), store, cfg.Chat.RetentionDays,
		time.Duration(cfg.Worker.PruneInterval)*time.Minute, lo)

	if *once {
		if _, err := w.RunOnce(ctx); err != nil {
			lo.Error("Retention pass failed", "error", err)
		}
		return
	}

	// Handle shutdown signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-quit:
		lo.Info("Received shutdown signal", "signal", sig)
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			lo.Error("Worker error", "error", err)
		}
	}

	lo.Info("Worker stopped")
}
