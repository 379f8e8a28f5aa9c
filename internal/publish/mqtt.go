package publish

import (
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"slotwatch/internal/checker"
	logx "slotwatch/pkg/logx"
)

type Config struct {
	Broker   string // tcp://host:1883
	Topic    string
	ClientID string
}

// MQTTPublisher publishes to a real broker. QoS 0, not retained.
type MQTTPublisher struct {
	client paho.Client
	topic  string
	log    logx.Logger
}

var _ Publisher = (*MQTTPublisher)(nil)

// NewMQTT connects to the broker. The client reconnects on its own afterwards.
func NewMQTT(cfg Config, log logx.Logger) (*MQTTPublisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker is empty")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "slotwatch"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("mqtt connection lost", logx.Err(err))
		}).
		SetOnConnectHandler(func(_ paho.Client) {
			log.Info("mqtt connected", logx.String("broker", cfg.Broker))
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return &MQTTPublisher{client: client, topic: cfg.Topic, log: log}, nil
}

func (p *MQTTPublisher) PublishOutcome(o checker.Outcome) error {
	payload, err := FormatPayload(o)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	p.log.Debug("outcome published", logx.String("topic", p.topic), logx.String("run_id", o.RunID))
	return nil
}

// Close disconnects, waiting up to one second for in-flight work.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
