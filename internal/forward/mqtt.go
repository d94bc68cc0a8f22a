package forward

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lexfrei/go-unifi-events/api/events"
	"github.com/lexfrei/go-unifi-events/internal/config"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQuiesce        = 250 // milliseconds
)

// ErrNotConnected is returned by MQTTSink.Send while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt broker not connected")

// MQTTSink publishes every event as JSON to <prefix>/<category>/<action>.
// Alias names such as "connected" publish to <prefix>/connected.
type MQTTSink struct {
	client   pahomqtt.Client
	prefix   string
	qos      byte
	retained bool
}

// mqttPayload is the published message body.
type mqttPayload struct {
	Name     string          `json:"name"`
	Category string          `json:"category,omitempty"`
	Action   string          `json:"action,omitempty"`
	Key      string          `json:"key"`
	Raw      events.RawEvent `json:"raw"`
	Time     time.Time       `json:"time"`
}

// NewMQTTSink connects to cfg.Broker. The paho client reconnects on its own
// after the initial connection succeeds.
func NewMQTTSink(cfg config.MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, errors.Newf("mqtt connect to %s timed out after %v", cfg.Broker, mqttConnectTimeout)
	}
	err := token.Error()
	if err != nil {
		return nil, errors.Wrapf(err, "mqtt connect to %s", cfg.Broker)
	}

	return newMQTTSink(client, cfg), nil
}

func newMQTTSink(client pahomqtt.Client, cfg config.MQTTConfig) *MQTTSink {
	return &MQTTSink{
		client:   client,
		prefix:   strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:      byte(cfg.QoS), //nolint:gosec // Validated to 0..2 by config.Validate
		retained: cfg.Retained,
	}
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Topic returns the topic ev is published to.
func (s *MQTTSink) Topic(ev events.Event) string {
	return s.prefix + "/" + strings.ReplaceAll(ev.Name, ".", "/")
}

// Send implements Sink.
func (s *MQTTSink) Send(ctx context.Context, ev events.Event) error {
	if !s.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(mqttPayload{
		Name:     ev.Name,
		Category: ev.Category,
		Action:   ev.Action,
		Key:      ev.Key,
		Raw:      ev.Raw,
		Time:     time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode mqtt payload")
	}

	token := s.client.Publish(s.Topic(ev), s.qos, s.retained, payload)

	timer := time.NewTimer(mqttPublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return errors.Wrapf(token.Error(), "publish %s", ev.Name)
	case <-timer.C:
		return errors.Newf("publish %s timed out after %v", ev.Name, mqttPublishTimeout)
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "publish canceled")
	}
}

// Close implements Sink.
func (s *MQTTSink) Close() error {
	s.client.Disconnect(mqttQuiesce)
	return nil
}
