package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"conti/internal/amqp"
	"conti/internal/config"
	internalhttp "conti/internal/http"
	"conti/internal/log"
	"conti/internal/services"
	"conti/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	logger := log.New(log.DefaultConfig())
	log.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Event publishing is optional; the ledger works without a broker.
	var events *amqp.Client
	if cfg.AMQPURL != "" {
		events, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			slog.Warn("AMQP unavailable, events disabled", "error", err)
			events = nil
		} else {
			defer events.Close()
		}
	}

	ledger := services.NewLedgerService(store, events)
	generator := services.NewPendingGenerator(store)
	goals := services.NewGoalService(store, events)

	server := internalhttp.NewServer(":"+cfg.Port, store, ledger, generator, goals, internalhttp.Options{
		WriteRateLimit: cfg.WriteRateLimit,
		MonthCacheSize: cfg.MonthCacheSize,
		MonthCacheTTL:  cfg.MonthCacheTTL,
	})
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 30 * time.Second
	server.IdleTimeout = 60 * time.Second

	go func() {
		slog.Info("Starting server", "port", cfg.Port, "db_path", cfg.SQLiteDBPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}
