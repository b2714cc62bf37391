// Command notifier consumes notification events from Kafka and stores them
// for the in-app inbox.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/MrJamesThe3rd/reloop/internal/bootstrap"
	"github.com/MrJamesThe3rd/reloop/internal/config"
	"github.com/MrJamesThe3rd/reloop/internal/kafka"
	"github.com/MrJamesThe3rd/reloop/internal/notification"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(cfg.Logger())

	if !cfg.KafkaEnabled() {
		slog.Error("KAFKA_BROKERS is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(ctx, cfg, cfg.App.Name+"-notifier")
	if err != nil {
		slog.Error("failed to open infrastructure", "error", err)
		os.Exit(1)
	}
	defer infra.Close()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Group, cfg.Kafka.Topic, cfg.Kafka.Workers)

	slog.Info("notification consumer started",
		"group", cfg.Kafka.Group,
		"topic", cfg.Kafka.Topic,
		"workers", cfg.Kafka.Workers,
	)

	if err := consumer.Start(ctx, notification.ConsumerHandler(infra.Notifications)); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped", "error", err)
		return
	}

	slog.Info("notification consumer stopped")
}
