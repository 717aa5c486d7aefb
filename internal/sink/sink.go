// Package sink forwards batches of observation events downstream. A failed
// Send means the batch was not accepted and the caller must not advance its
// watermark.
package sink

import (
	"context"
	"time"

	"github.com/tphakala/ebirdsync/internal/conf"
	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/observation"
)

// Sink accepts a batch of events for one integration.
type Sink interface {
	Send(ctx context.Context, integrationID string, events []observation.Event) error
	Close() error
}

// New creates the sink selected by settings.
func New(ctx context.Context, settings conf.SinkSettings) (Sink, error) {
	switch settings.Type {
	case conf.SinkGundi:
		s, err := NewGundiSink(GundiConfig{
			URL:     settings.Gundi.URL,
			APIKey:  settings.Gundi.APIKey,
			Timeout: settings.Gundi.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case conf.SinkMQTT:
		s, err := NewMQTTSink(ctx, MQTTConfig{
			Broker:   settings.MQTT.Broker,
			ClientID: settings.MQTT.ClientID,
			Username: settings.MQTT.Username,
			Password: settings.MQTT.Password,
			Topic:    settings.MQTT.Topic,
			QoS:      settings.MQTT.QoS,
			Retain:   settings.MQTT.Retain,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case conf.SinkKafka:
		s, err := NewKafkaSink(ctx, KafkaConfig{
			Brokers:           settings.Kafka.Brokers,
			Topic:             settings.Kafka.Topic,
			ClientID:          settings.Kafka.ClientID,
			CreateTopic:       settings.Kafka.CreateTopic,
			Partitions:        settings.Kafka.Partitions,
			ReplicationFactor: settings.Kafka.ReplicationFactor,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Newf("unsupported sink type %q", settings.Type).
			Category(errors.CategoryConfiguration).
			Component("sink").
			Build()
	}
}

// GetLogger returns the sink package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("sink")
}

func submissionError(err error, sinkType, integrationID string, events int) *errors.ErrorBuilder {
	return errors.New(err).
		Category(errors.CategorySubmission).
		Component("sink").
		Context("sink", sinkType).
		Context("integration_id", integrationID).
		Context("events", events)
}

// waitTimeout bounds a blocking wait by ctx, falling back to fallback when
// ctx carries no deadline.
func waitTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}
