package display

import (
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configures the status mirror on a local broker.
type MQTTOptions struct {
	Broker   string
	Topic    string
	ClientID string
	Timeout  time.Duration
}

type screen struct {
	Lines []string  `json:"lines"`
	At    time.Time `json:"at"`
}

// MQTT publishes each screen as a retained JSON message so a dashboard on the
// local network sees the last status.
type MQTT struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	log     *slog.Logger
}

// NewMQTT connects to the broker in the background; publishes made while the
// broker is unreachable are dropped.
func NewMQTT(o MQTTOptions, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.ClientID == "" {
		o.ClientID = "edge-telemetry-agent"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetConnectTimeout(o.Timeout).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	c := mqtt.NewClient(opts)
	c.Connect()
	return newMQTT(c, o, logger)
}

func newMQTT(c mqtt.Client, o MQTTOptions, logger *slog.Logger) *MQTT {
	return &MQTT{client: c, topic: o.Topic, timeout: o.Timeout, log: logger.With("component", "display", "topic", o.Topic)}
}

func (d *MQTT) Show(lines ...string) {
	if !d.client.IsConnectionOpen() {
		d.log.Debug("mqtt broker not connected, screen dropped")
		return
	}
	payload, err := json.Marshal(screen{Lines: lines, At: time.Now().UTC()})
	if err != nil {
		d.log.Debug("marshal screen", "err", err)
		return
	}
	token := d.client.Publish(d.topic, 0, true, payload)
	if !token.WaitTimeout(d.timeout) {
		d.log.Debug("mqtt publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		d.log.Debug("mqtt publish failed", "err", err)
	}
}

// Close disconnects from the broker.
func (d *MQTT) Close() {
	d.client.Disconnect(250)
}
