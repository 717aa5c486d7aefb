package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/observation"
)

const integrationHeader = "integration_id"

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	ClientID          string
	CreateTopic       bool
	Partitions        int32
	ReplicationFactor int16
}

// producer is the part of *kgo.Client the sink uses.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaSink produces one record per event, keyed by integration id so an
// integration's events stay ordered within a partition.
type KafkaSink struct {
	topic    string
	producer producer
	log      logger.Logger
}

// NewKafkaSink connects to the cluster and optionally creates the topic.
func NewKafkaSink(ctx context.Context, cfg KafkaConfig) (*KafkaSink, error) {
	log := GetLogger().With(logger.String("sink", "kafka"))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, errors.Newf("failed to create kafka client: %w", err).
			Category(errors.CategoryConfiguration).
			Component("sink").
			Build()
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, errors.Newf("kafka ping failed: %w", err).
			Category(errors.CategoryNetwork).
			Component("sink").
			Context("brokers", len(cfg.Brokers)).
			Build()
	}

	if cfg.CreateTopic {
		if err := ensureTopic(ctx, kadm.NewClient(client), cfg, log); err != nil {
			client.Close()
			return nil, err
		}
	}

	return newKafkaSinkWithProducer(client, cfg.Topic, log), nil
}

func newKafkaSinkWithProducer(p producer, topic string, log logger.Logger) *KafkaSink {
	return &KafkaSink{topic: topic, producer: p, log: log}
}

func ensureTopic(ctx context.Context, adm *kadm.Client, cfg KafkaConfig, log logger.Logger) error {
	partitions, replication := cfg.Partitions, cfg.ReplicationFactor
	if partitions < 1 {
		partitions = 1
	}
	if replication < 1 {
		replication = 1
	}

	resp, err := adm.CreateTopic(ctx, partitions, replication, nil, cfg.Topic)
	if err == nil {
		err = resp.Err
	}
	switch {
	case err == nil:
		log.Info("created kafka topic",
			logger.String("topic", cfg.Topic),
			logger.Int("partitions", int(partitions)))
		return nil
	case errors.Is(err, kerr.TopicAlreadyExists):
		return nil
	default:
		return errors.Newf("failed to create kafka topic: %w", err).
			Category(errors.CategoryNetwork).
			Component("sink").
			Context("topic", cfg.Topic).
			Build()
	}
}

// Send produces the batch synchronously and fails if any record fails.
func (s *KafkaSink) Send(ctx context.Context, integrationID string, events []observation.Event) error {
	if len(events) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(events))
	for i := range events {
		value, err := json.Marshal(events[i])
		if err != nil {
			return submissionError(fmt.Errorf("failed to marshal event: %w", err), "kafka", integrationID, len(events)).Build()
		}
		records = append(records, &kgo.Record{
			Topic:   s.topic,
			Key:     []byte(integrationID),
			Value:   value,
			Headers: []kgo.RecordHeader{{Key: integrationHeader, Value: []byte(integrationID)}},
		})
	}

	if err := s.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return submissionError(fmt.Errorf("kafka produce failed: %w", err), "kafka", integrationID, len(events)).
			Context("topic", s.topic).
			Build()
	}

	s.log.Debug("events produced",
		logger.String("integration_id", integrationID),
		logger.String("topic", s.topic),
		logger.Int("events", len(events)))
	return nil
}

func (s *KafkaSink) Close() error {
	s.producer.Close()
	return nil
}
