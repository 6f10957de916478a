package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mmair/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig holds broker settings for the alert topic.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// BrokerURL adds the tcp scheme when the broker is given as host:port.
func (c MQTTConfig) BrokerURL() string {
	if strings.Contains(c.Broker, "://") {
		return c.Broker
	}
	return "tcp://" + c.Broker
}

// NewMQTTClientOptions returns client options shared by the publisher and the alert subscriber.
func NewMQTTClientOptions(cfg MQTTConfig, logger *zap.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker",
			zap.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}
	return opts
}

// MQTTPublisher publishes alert events to an MQTT topic, one sub-topic per device.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(cfg MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	logger = logger.With(zap.String("component", "mqtt"))

	client := mqtt.NewClient(NewMQTTClientOptions(cfg, logger))
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("timeout connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return newMQTTPublisher(client, cfg.Topic, logger), nil
}

func newMQTTPublisher(client mqtt.Client, topic string, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		topic:  strings.TrimRight(topic, "/"),
		logger: logger,
	}
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

// Publish sends the event with QoS 1 to <topic>/<device_id>.
func (p *MQTTPublisher) Publish(ctx context.Context, event models.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", p.topic, event.DeviceID)
	token := p.client.Publish(topic, 1, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish MQTT message: %w", err)
	}

	p.logger.Debug("Published alert event to MQTT",
		zap.String("topic", topic),
		zap.String("device_id", event.DeviceID.String()))
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.logger.Info("Disconnecting from MQTT broker")
	p.client.Disconnect(250)
	return nil
}
