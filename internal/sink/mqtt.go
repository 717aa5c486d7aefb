package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/observation"
)

const (
	mqttConnectTimeout = 30 * time.Second
	mqttPublishTimeout = 10 * time.Second
	mqttDisconnectMs   = 250
)

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // events go to Topic/<integration id>
	QoS      byte
	Retain   bool
}

// MQTTSink publishes one message per event.
type MQTTSink struct {
	config MQTTConfig
	client mqtt.Client
	log    logger.Logger
}

// NewMQTTSink connects to the broker.
func NewMQTTSink(ctx context.Context, cfg MQTTConfig) (*MQTTSink, error) {
	log := GetLogger().With(logger.String("sink", "mqtt"))

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("connected to MQTT broker", logger.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("connection to MQTT broker lost", logger.String("broker", cfg.Broker), logger.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(waitTimeout(ctx, mqttConnectTimeout)) {
		client.Disconnect(0)
		return nil, errors.Newf("mqtt connection timeout").
			Category(errors.CategoryTimeout).
			Component("sink").
			NetworkContext(cfg.Broker, mqttConnectTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		return nil, errors.Newf("mqtt connection error: %w", err).
			Category(errors.CategoryNetwork).
			Component("sink").
			NetworkContext(cfg.Broker, mqttConnectTimeout).
			Build()
	}

	return newMQTTSinkWithClient(client, cfg, log), nil
}

func newMQTTSinkWithClient(client mqtt.Client, cfg MQTTConfig, log logger.Logger) *MQTTSink {
	return &MQTTSink{config: cfg, client: client, log: log}
}

// Topic returns the topic events of integrationID are published to.
func (s *MQTTSink) Topic(integrationID string) string {
	return fmt.Sprintf("%s/%s", s.config.Topic, integrationID)
}

// Send publishes every event and waits for all of them to be acknowledged
// at the configured QoS. The first failure fails the batch.
func (s *MQTTSink) Send(ctx context.Context, integrationID string, events []observation.Event) error {
	if len(events) == 0 {
		return nil
	}
	if !s.client.IsConnected() {
		return submissionError(fmt.Errorf("not connected to MQTT broker"), "mqtt", integrationID, len(events)).Build()
	}

	topic := s.Topic(integrationID)
	tokens := make([]mqtt.Token, 0, len(events))
	for i := range events {
		payload, err := json.Marshal(events[i])
		if err != nil {
			return submissionError(fmt.Errorf("failed to marshal event: %w", err), "mqtt", integrationID, len(events)).Build()
		}
		tokens = append(tokens, s.client.Publish(topic, s.config.QoS, s.config.Retain, payload))
	}

	for i, token := range tokens {
		if !token.WaitTimeout(waitTimeout(ctx, mqttPublishTimeout)) {
			return submissionError(fmt.Errorf("publish timeout"), "mqtt", integrationID, len(events)).
				Context("event_index", i).
				Context("topic", topic).
				Build()
		}
		if err := token.Error(); err != nil {
			return submissionError(fmt.Errorf("publish failed: %w", err), "mqtt", integrationID, len(events)).
				Context("event_index", i).
				Context("topic", topic).
				Build()
		}
	}

	s.log.Debug("events published",
		logger.String("integration_id", integrationID),
		logger.String("topic", topic),
		logger.Int("events", len(events)))
	return nil
}

func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(mqttDisconnectMs)
	}
	return nil
}
