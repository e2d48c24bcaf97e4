package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mykyno/hydroponik/internal/config"
	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/dosing"
	"go.uber.org/zap"
)

const mqttConnectTimeout = 10 * time.Second

// MQTTClient is the part of mqtt.Client the publisher uses.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes the retained status and every dose under
// <topic_prefix>/status and <topic_prefix>/doses.
type MQTTPublisher struct {
	client MQTTClient
	prefix string
	qos    byte
	logger *zap.Logger
}

func NewMQTTPublisher(cfg config.MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	return NewMQTTPublisherWithClient(client, cfg.TopicPrefix, cfg.QoS, logger), nil
}

func NewMQTTPublisherWithClient(client MQTTClient, prefix string, qos byte, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, qos: qos, logger: logger}
}

func (p *MQTTPublisher) topic(name string) string {
	return p.prefix + "/" + name
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, retained bool, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, retained, data)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MQTTPublisher) PublishSnapshot(ctx context.Context, snap control.Snapshot) error {
	return p.publish(ctx, p.topic("status"), true, snap)
}

func (p *MQTTPublisher) PublishDose(ctx context.Context, ev dosing.DoseEvent) error {
	return p.publish(ctx, p.topic("doses"), false, ev)
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	p.logger.Info("MQTT connection closed")
	return nil
}
