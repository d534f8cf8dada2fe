package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ledgerd/internal/amqp"
	"ledgerd/internal/config"
	"ledgerd/internal/dispatch"
	"ledgerd/internal/insight"
	"ledgerd/internal/log"
	"ledgerd/internal/notify"
	"ledgerd/internal/ratelimit"
	"ledgerd/internal/services"
	"ledgerd/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.Setup()

	logger.Info("Starting ledgerd")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Broker is optional: without it, on-demand triggers are unavailable
	// and notifications are logged instead of delivered.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPEventQueue, cfg.AMQPNotifyQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without broker", "error", err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
			logger.Info("AMQP client initialized",
				"event_queue", cfg.AMQPEventQueue,
				"notify_queue", cfg.AMQPNotifyQueue)
		}
	} else {
		logger.Info("AMQP disabled - notifications will only be logged")
	}

	var notifier notify.Notifier = notify.LogNotifier{}
	if amqpClient != nil {
		notifier = notify.NewAMQPNotifier(amqpClient)
	}

	var insights insight.Generator = insight.StaticGenerator{}
	if cfg.GeminiEnabled {
		insights = insight.NewGeminiGenerator(cfg.GeminiModel)
		logger.Info("Gemini insight generation enabled", "model", cfg.GeminiModel)
	} else {
		logger.Info("GEMINI_API_KEY not set - reports will use static insights")
	}

	limiter := ratelimit.NewKeyLimiter(ratelimit.Config{
		Limit:  cfg.OwnerRateLimit,
		Window: cfg.OwnerRateWindow,
	})
	defer limiter.Stop()

	recurring := services.NewRecurringService(repo, limiter, dispatch.Config{
		Workers:      cfg.DispatchWorkers,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
	})
	stats := services.NewStatsService(repo)
	budgets := services.NewBudgetChecker(repo, notifier)
	reports := services.NewReportService(repo, stats, insights, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Recurring transaction processor configured",
		"interval", cfg.ProcessInterval,
		"workers", cfg.DispatchWorkers,
		"owner_rate_limit", cfg.OwnerRateLimit,
		"sqlite_db", cfg.SQLiteDBPath)

	// Run initial processing on startup.
	logger.Info("Running initial recurring transaction processing...")
	if result, err := recurring.ProcessDue(ctx, time.Now()); err != nil {
		logger.Error("Initial processing failed", "error", err)
	} else {
		logger.Info("Initial processing complete",
			"processed", result.Processed,
			"skipped", result.Skipped,
			"failed", result.Failed)
	}

	// Periodic recurring processing.
	processTicker := time.NewTicker(cfg.ProcessInterval)
	defer processTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-processTicker.C:
				if _, err := recurring.ProcessDue(ctx, now); err != nil {
					logger.Error("Periodic processing failed", "error", err)
				}
			}
		}
	}()

	// First-of-month jobs: reports and budget checks. The hourly tick is
	// the daemon's stand-in for a monthly cron; each month runs once.
	monthlyTicker := time.NewTicker(time.Hour)
	defer monthlyTicker.Stop()
	go func() {
		var lastRun time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-monthlyTicker.C:
				if now.Day() != 1 {
					continue
				}
				if lastRun.Year() == now.Year() && lastRun.Month() == now.Month() {
					continue
				}
				lastRun = now

				if sent, err := reports.SendMonthlyReports(ctx, now); err != nil {
					logger.Error("Monthly report run finished with failures", "sent", sent, "error", err)
				}
				if fired, err := budgets.CheckBudgets(ctx, now); err != nil {
					logger.Error("Budget check run finished with failures", "alerts", fired, "error", err)
				}
			}
		}
	}()

	// On-demand triggers from the broker.
	if amqpClient != nil {
		go func() {
			if err := amqpClient.ConsumeProcessEvents(ctx, recurring.HandleEvent); err != nil {
				if err != context.Canceled {
					logger.Error("Event consumption failed", "error", err)
				}
				cancel()
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down ledgerd...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	case <-time.After(2 * time.Second):
		logger.Info("Shutdown complete")
	}
}
