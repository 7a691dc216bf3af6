// Worker consumes audio job tickets from Kafka and runs transcriptions against the shared job store.
// Requires JOB_DISPATCH=kafka settings: KAFKA_BROKERS, AUDIO_JOBS_TOPIC, KAFKA_GROUP_ID and DATABASE_URL.
// JOB_WORKERS readers join the consumer group, so at most that many jobs run concurrently.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/segmentio/kafka-go"

	"speech-to-text/backend/internal/app"
	"speech-to-text/backend/internal/config"
	"speech-to-text/backend/internal/job/runner"
	"speech-to-text/backend/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", "err", err)
	}
	logging.Install(cfg.LogLevel, cfg.LogFormat)

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required so job state is shared with the server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := app.NewTelemetry(ctx, cfg)
	if err != nil {
		log.Fatal("telemetry", "err", err)
	}
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatal("stores", "err", err)
	}
	defer stores.Close()

	r, err := app.NewRunner(ctx, cfg, stores.Jobs, tel.Emitter, nil)
	if err != nil {
		log.Fatal("runner", "err", err)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("worker: shutting down...")
		cancel()
	}()

	log.Info("worker: consuming jobs", "topic", cfg.AudioJobsTopic, "group", cfg.KafkaGroupID, "readers", cfg.JobWorkers)

	var wg sync.WaitGroup
	for i := 0; i < cfg.JobWorkers; i++ {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          cfg.AudioJobsTopic,
			GroupID:        cfg.KafkaGroupID,
			MinBytes:       1,
			MaxBytes:       1e6,
			MaxWait:        time.Second,
			CommitInterval: time.Second,
		})
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer reader.Close()
			if err := runner.Consume(ctx, reader, r); err != nil {
				log.Error("worker: consumer stopped", "reader", id, "err", err)
			}
		}(i)
	}
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		log.Warn("telemetry shutdown", "err", err)
	}
	log.Info("worker: stopped")
}
