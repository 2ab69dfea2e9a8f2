package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/config"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/logger"
)

// publisher is the part of mqtt.Client the relay needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

// MQTTChannel publishes notifications as JSON under
// <prefix>/dashboard/notifications/<level>.
type MQTTChannel struct {
	client publisher
	prefix string
	qos    byte
}

// DialMQTT connects to the broker in cfg. The client reconnects on its own
// after the first successful connect.
func DialMQTT(cfg config.MQTTConfig) (*MQTTChannel, error) {
	if cfg.Broker == "" {
		return nil, errors.New("notify: empty mqtt broker")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "facemask-dashboard-" + uuid.NewString()[:8]
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		logger.Info("MQTT", "Connected to %s as %s", cfg.Broker, clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT", "Connection lost, will auto-reconnect: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("notify: mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("notify: mqtt connect: %w", err)
	}

	return newMQTTChannel(client, cfg.TopicPrefix, cfg.QoS), nil
}

func newMQTTChannel(client publisher, prefix string, qos byte) *MQTTChannel {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "face_mask_detection"
	}
	return &MQTTChannel{client: client, prefix: prefix, qos: qos}
}

// Name implements Channel.
func (m *MQTTChannel) Name() string { return "mqtt" }

// Topic returns the topic used for level.
func (m *MQTTChannel) Topic(level Level) string {
	return m.prefix + "/dashboard/notifications/" + string(level)
}

// Send implements Channel.
func (m *MQTTChannel) Send(ctx context.Context, n Notification) error {
	if !m.client.IsConnectionOpen() {
		return errors.New("mqtt not connected")
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	token := m.client.Publish(m.Topic(n.Level), m.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", n.ID, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", n.ID, err)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTTChannel) Close() {
	m.client.Disconnect(250)
}
