// Worker relays reset-code deliveries from the Kafka topic written by the
// server (RESET_DELIVERY=kafka) to the mail queue in Redis, or to the log when
// REDIS_ADDR is unset. Set KAFKA_BROKERS, KAFKA_RESET_TOPIC and KAFKA_GROUP_ID.
// The store and signing settings are validated by config but unused here.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"account-auth/backend/internal/config"
	"account-auth/backend/internal/delivery"
	"account-auth/backend/internal/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	logger := logging.Setup(cfg.ServiceName+"-worker", version, logging.Options{Format: cfg.LogFormat, Level: level})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var out delivery.Sink = delivery.NewLogSink(logger.With("component", "mailer"))
	if cfg.RedisAddr != "" {
		client, err := delivery.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("worker: redis: %v", err)
		}
		out, err = delivery.NewRedisSink(client, cfg.RedisResetQueue)
		if err != nil {
			log.Fatalf("worker: %v", err)
		}
	}

	relay, err := delivery.NewKafkaRelay(delivery.RelayOptions{
		Brokers: brokers,
		Topic:   cfg.KafkaResetTopic,
		GroupID: cfg.KafkaGroupID,
	}, out, logger)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	defer relay.Close()

	logger.Info("worker consuming", "topic", cfg.KafkaResetTopic, "group", cfg.KafkaGroupID, "redis", cfg.RedisAddr != "")
	if err := relay.Run(ctx); err != nil {
		logger.Error("worker stopped", "error", err)
		_ = relay.Close()
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
