// Command trigger publishes a process-one-recurring-transaction event to
// the broker, the on-demand counterpart of the daemon's daily run.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"ledgerd/internal/amqp"
	"ledgerd/internal/config"
	"ledgerd/internal/log"
)

func main() {
	_ = godotenv.Load()

	logger := log.Setup()

	transactionID := flag.String("transaction", "", "recurring transaction id to process")
	userID := flag.String("user", "", "owner id of the transaction")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required to publish trigger events")
		os.Exit(1)
	}

	ev := amqp.NewProcessTransactionEvent(*transactionID, *userID)
	if err := ev.Validate(); err != nil {
		logger.Error("Invalid trigger payload", "error", err)
		flag.Usage()
		os.Exit(1)
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPEventQueue, cfg.AMQPNotifyQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.PublishProcessEvent(ctx, ev); err != nil {
		logger.Error("Failed to publish event", "error", err)
		os.Exit(1)
	}

	logger.Info("Trigger published",
		"transaction_id", ev.TransactionID,
		"user_id", ev.UserID)
}
