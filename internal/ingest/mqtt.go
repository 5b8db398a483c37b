package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/atm-dispatch/internal/models"
)

// MQTTConfig defines the broker connection for telemetry.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	QoS      byte
}

// TelemetryIngester processes one decoded snapshot.
type TelemetryIngester interface {
	Ingest(ctx context.Context, snapshot models.Telemetry) (Result, error)
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

const connectTimeout = 10 * time.Second

// Subscriber feeds telemetry published on MQTT into an ingester.
type Subscriber struct {
	cfg      MQTTConfig
	ingester TelemetryIngester
	log      logrus.FieldLogger

	mu  sync.Mutex
	cli pahoClient
	ctx context.Context
}

// NewSubscriber creates a subscriber. Call Start to connect.
func NewSubscriber(cfg MQTTConfig, ingester TelemetryIngester, log logrus.FieldLogger) *Subscriber {
	return &Subscriber{cfg: cfg, ingester: ingester, log: log.WithField("component", "mqtt")}
}

// Start connects to the broker and subscribes to the telemetry topic. The
// subscription is renewed on every reconnect. ctx is passed to each ingestion.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.cfg.Broker == "" {
		return errors.New("mqtt broker not configured")
	}
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	opts := paho.NewClientOptions().AddBroker(s.cfg.Broker).SetClientID(s.cfg.ClientID)
	opts.AutoReconnect = true
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.OnConnect = func(c paho.Client) {
		s.log.WithField("broker", s.cfg.Broker).Info("MQTT connected")
		if token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handleMessage); token.Wait() && token.Error() != nil {
			s.log.WithError(token.Error()).WithField("topic", s.cfg.Topic).Error("MQTT subscribe failed")
			return
		}
		s.log.WithField("topic", s.cfg.Topic).Info("Subscribed to telemetry")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.log.WithError(err).Warn("MQTT connection lost")
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		s.log.Warn("Reconnecting to MQTT broker")
	}

	c := newMQTTClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect to %s: timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", s.cfg.Broker, err)
	}
	s.mu.Lock()
	s.cli = c
	s.mu.Unlock()
	return nil
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cli != nil && s.cli.IsConnected() {
		s.cli.Disconnect(250)
		s.log.Info("MQTT disconnected")
	}
	s.cli = nil
}

func (s *Subscriber) handleMessage(_ paho.Client, msg paho.Message) {
	entry := s.log.WithField("topic", msg.Topic())

	var snapshot models.Telemetry
	if err := json.Unmarshal(msg.Payload(), &snapshot); err != nil {
		entry.WithError(err).Warn("Dropping undecodable telemetry")
		return
	}
	if snapshot.ATMID == "" {
		snapshot.ATMID = atmIDFromTopic(msg.Topic())
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.ingester.Ingest(ctx, snapshot); err != nil {
		entry.WithError(err).Warn("Dropping invalid telemetry")
	}
}

// atmIDFromTopic extracts <id> from topics shaped like atm/<id>/telemetry.
func atmIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "atm" {
		return ""
	}
	return parts[1]
}
