// Worker consumes analyzer run events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, PROGRESS_KAFKA_TOPIC, KAFKA_GROUP_ID and LOKI_URL.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"license-usage-analyzer/internal/config"
	"license-usage-analyzer/internal/telemetry/loki"
)

const pushTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.LokiURL == "" {
		log.Fatal("worker: LOKI_URL is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.ProgressKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := loki.NewClient(cfg.LokiURL, nil)
	log.Printf("worker: consuming from %s (group %s), pushing to %s", cfg.ProgressKafkaTopic, cfg.KafkaGroupID, cfg.LokiURL)

	var relayed, failed int
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("worker: stopped after %d events (%d push failures)", relayed, failed)
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}

		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := sink.PushEventJSON(pushCtx, msg.Value); err != nil {
			failed++
			log.Printf("worker: loki push failed (run %s): %v", msg.Key, err)
		} else {
			relayed++
		}
		cancel()
	}
}
