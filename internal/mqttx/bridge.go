package mqttx

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/iotview/sensord/internal/ingest"
	"github.com/iotview/sensord/internal/log"
)

const (
	telemetryTopic = "devices/+/telemetry"
	readingsTopic  = "devices/%s/readings"

	subscribeQoS = 1
	publishQoS   = 0
)

// Options holds broker connection settings. Broker is required; the rest
// are optional.
type Options struct {
	Broker   string
	Username string
	Password string
	ClientID string
}

// Bridge connects the ingest pipeline to an MQTT broker. It consumes raw
// telemetry from devices/<id>/telemetry and echoes accepted readings to
// devices/<id>/readings for live subscribers.
type Bridge struct {
	client   mqtt.Client
	ingestor *ingest.Ingestor
}

// NewBridge connects to the broker and subscribes to the telemetry topic.
// Payloads arriving over MQTT are trusted after broker authentication; the
// HMAC signature check applies to the HTTP ingest path only.
func NewBridge(opts Options, ingestor *ingest.Ingestor) (*Bridge, error) {
	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)
	clientOpts.SetConnectTimeout(10 * time.Second)
	clientOpts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info("connected to MQTT broker", "broker", opts.Broker)
	})
	clientOpts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Warn("MQTT connection lost", "error", err)
	})

	b := &Bridge{
		client:   mqtt.NewClient(clientOpts),
		ingestor: ingestor,
	}

	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	if token := b.client.Subscribe(telemetryTopic, subscribeQoS, b.handleTelemetry); token.Wait() && token.Error() != nil {
		b.client.Disconnect(250)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", telemetryTopic, token.Error())
	}

	return b, nil
}

// handleTelemetry validates and ingests one telemetry message. Bad messages
// are logged and dropped; the subscription stays up.
func (b *Bridge) handleTelemetry(_ mqtt.Client, m mqtt.Message) {
	raw := m.Payload()

	msg, eventTime, err := ingest.ParseMessage(raw, time.Now().UTC())
	if err != nil {
		log.Warn("dropping malformed telemetry message", "topic", m.Topic(), "error", err)
		return
	}
	msg.Topic = m.Topic()

	if _, err := b.ingestor.Ingest(msg, msg.Reading(eventTime)); err != nil {
		log.Warn("dropping telemetry message", "topic", m.Topic(), "error", err)
	}
}

// PublishReading echoes a stored reading to the device's readings topic.
// Fire-and-forget: delivery failures are logged, never surfaced.
func (b *Bridge) PublishReading(deviceID string, payload []byte) {
	topic := fmt.Sprintf(readingsTopic, deviceID)
	token := b.client.Publish(topic, publishQoS, false, payload)
	go func() {
		if token.Wait(); token.Error() != nil {
			log.Warn("failed to publish reading", "topic", topic, "error", token.Error())
		}
	}()
}

// IsConnected reports broker connectivity.
func (b *Bridge) IsConnected() bool {
	return b.client.IsConnected()
}

// Close disconnects from the broker, waiting briefly for in-flight messages.
func (b *Bridge) Close() {
	b.client.Disconnect(250)
}
