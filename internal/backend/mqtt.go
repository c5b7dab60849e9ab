package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"procodus.dev/water-monitor/internal/ingest"
	"procodus.dev/water-monitor/pkg/logger"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
	mqttQuiesceMillis  = 250
)

// MQTTConfig holds the configuration for the MQTTListener.
type MQTTConfig struct {
	Logger    *slog.Logger
	Submitter Submitter
	// Broker is a URL such as tcp://localhost:1883.
	Broker   string
	Topic    string
	ClientID string
}

// MQTTListener subscribes to a device topic and submits every JSON payload
// as a reading. It resubscribes after automatic reconnects.
type MQTTListener struct {
	logger    *slog.Logger
	submitter Submitter
	topic     string
	client    mqtt.Client

	mu      sync.Mutex
	baseCtx context.Context
}

// NewMQTTListener validates cfg and prepares an unconnected client.
func NewMQTTListener(cfg *MQTTConfig) (*MQTTListener, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Submitter == nil {
		return nil, errors.New("submitter cannot be nil")
	}
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker cannot be empty")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqtt topic cannot be empty")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "water-monitor-backend"
	}

	l := &MQTTListener{
		logger:    logger.ForComponent(cfg.Logger, "mqtt", slog.String("topic", cfg.Topic)),
		submitter: cfg.Submitter,
		topic:     cfg.Topic,
		baseCtx:   context.Background(),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetOnConnectHandler(l.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			l.logger.Warn("mqtt connection lost", "error", err)
		})
	l.client = mqtt.NewClient(opts)

	return l, nil
}

// Start connects to the broker. Message handling uses ctx as its parent.
func (l *MQTTListener) Start(ctx context.Context) error {
	l.mu.Lock()
	l.baseCtx = ctx
	l.mu.Unlock()

	token := l.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (l *MQTTListener) onConnect(c mqtt.Client) {
	token := c.Subscribe(l.topic, mqttQoS, l.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		l.logger.Error("mqtt subscribe failed", "error", err)
		return
	}
	l.logger.Info("listening for readings")
}

func (l *MQTTListener) onMessage(_ mqtt.Client, msg mqtt.Message) {
	l.mu.Lock()
	parent := l.baseCtx
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, submitTimeout)
	defer cancel()

	if err := l.HandlePayload(ctx, msg.Payload()); err != nil {
		if ingest.IsValidation(err) {
			l.logger.Warn("rejected mqtt reading", "error", err)
			return
		}
		l.logger.Error("failed to store mqtt reading", "error", err)
	}
}

// HandlePayload decodes and submits one message body.
func (l *MQTTListener) HandlePayload(ctx context.Context, payload []byte) error {
	sub, err := ingest.DecodeSubmission(payload)
	if err != nil {
		return err
	}
	_, err = l.submitter.SubmitReading(ctx, sub)
	return err
}

// Stop disconnects from the broker.
func (l *MQTTListener) Stop() {
	if l.client.IsConnected() {
		l.client.Disconnect(mqttQuiesceMillis)
	}
}
