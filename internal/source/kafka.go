package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConfig configures the sighting consumer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Group   string
}

// Kafka consumes candidate sightings from a topic. Messages are JSON
// Sighting payloads; a malformed message is logged and committed so it is
// not redelivered forever. Duplicate deliveries are harmless because
// discovery is idempotent.
type Kafka struct {
	client *kgo.Client
	logger *slog.Logger
}

var _ Connector = (*Kafka)(nil)

// NewKafka connects a consumer-group client to the sighting topic.
func NewKafka(cfg KafkaConfig, logger *slog.Logger) (*Kafka, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup(cfg.Group),
	)
	if err != nil {
		return nil, fmt.Errorf("build kafka client: %w", err)
	}
	return &Kafka{client: client, logger: logger}, nil
}

// Run polls until the context ends.
func (k *Kafka) Run(ctx context.Context, registrar Registrar) error {
	defer k.client.Close()

	for {
		fetches := k.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			k.logger.ErrorContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		fetches.EachRecord(func(record *kgo.Record) {
			k.handle(ctx, registrar, record)
		})
	}
}

func (k *Kafka) handle(ctx context.Context, registrar Registrar, record *kgo.Record) {
	var sighting Sighting
	if err := json.Unmarshal(record.Value, &sighting); err != nil {
		k.logger.WarnContext(ctx, "skipping malformed sighting",
			"topic", record.Topic,
			"key", string(record.Key),
			"error", err,
		)
		return
	}
	if sighting.Source == "" {
		sighting.Source = "kafka:" + record.Topic
	}

	result, err := registrar.Discover(ctx, sighting.RawURL, sighting.Source, sighting.Metadata)
	if err != nil {
		k.logger.ErrorContext(ctx, "sighting registration failed",
			"url", sighting.RawURL,
			"error", err,
		)
		return
	}
	k.logger.DebugContext(ctx, "sighting handled",
		"url", sighting.RawURL,
		"reason", result.Reason,
	)
}
