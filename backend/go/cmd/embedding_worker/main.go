package main

import (
	"BizAdvisor/backend/go/internal/bootstrap"
	"BizAdvisor/backend/go/internal/config"
	kafkadb "BizAdvisor/backend/go/internal/database/kafka"
	"BizAdvisor/backend/go/internal/embedding/lifecycle"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	configPath := flag.String("config", "backend/go/internal/config/config.yaml", "path to the YAML config")
	backfill := flag.Int("backfill", 0, "schedule up to N not-embedded records of each kind before consuming")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Queue.Driver != "kafka" {
		log.Fatalf("embedding worker requires queue.driver kafka, got %q", cfg.Queue.Driver)
	}

	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	workerLogger := logger.New("EmbeddingWorker", "", "")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	comps, err := bootstrap.New(ctx, cfg, workerLogger)
	if err != nil {
		workerLogger.WithError(models.NewErrorInfo(err, "startup_error")).Fatal("Failed to initialise storage")
	}
	defer comps.Close()

	if *backfill > 0 {
		n, err := comps.Backfill(ctx, *backfill)
		if err != nil {
			workerLogger.WithError(models.NewErrorInfo(err, "backfill_error")).Error("Backfill stopped early")
		}
		workerLogger.WithField("scheduled", n).Info("Backfill scheduled")
	}

	reader := kafkadb.NewReader(&cfg.Databases.Kafka, cfg.Queue.Topic)
	defer func() {
		if err := reader.Close(); err != nil {
			workerLogger.WithError(models.NewErrorInfo(err, "kafka_error")).Error("Error closing Kafka reader")
		}
	}()

	consumer := lifecycle.NewKafkaConsumer(reader, comps.Runner, workerLogger)
	workerLogger.WithField("topic", cfg.Queue.Topic).Info("Embedding worker started")
	if err := consumer.Run(ctx); err != nil {
		workerLogger.WithError(models.NewErrorInfo(err, "kafka_error")).Error("Consumer stopped")
	}
	workerLogger.Info("Embedding worker stopped")
}
