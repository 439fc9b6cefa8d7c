package main

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/arloliu/go-vna/logger"
)

const mqttPublishTimeout = 5 * time.Second

// mqttPublisher publishes a summary of every streamed sweep.
type mqttPublisher struct {
	client  mqtt.Client
	cfg     *MQTTConfig
	logger  logger.Logger
	metrics *daemonMetrics
}

func newMQTTPublisher(cfg *MQTTConfig, l logger.Logger, m *daemonMetrics) (*mqttPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("vnad_" + uuid.NewString()[:8])
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		l.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(mqttPublishTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &mqttPublisher{client: client, cfg: cfg, logger: l, metrics: m}, nil
}

func (p *mqttPublisher) publish(frame *sweepFrame) {
	payload, err := json.Marshal(summarize(frame))
	if err != nil {
		p.logger.Error("failed to encode sweep summary", "error", err)
		return
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		p.metrics.mqttErrors.Inc()
		p.logger.Warn("mqtt publish timed out", "topic", p.cfg.Topic, "seq", frame.Seq)
		return
	}
	if err := token.Error(); err != nil {
		p.metrics.mqttErrors.Inc()
		p.logger.Warn("mqtt publish failed", "topic", p.cfg.Topic, "error", err)
		return
	}
	p.metrics.mqttPublished.Inc()
}

// Close disconnects from the broker.
func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}
