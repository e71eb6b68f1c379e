package ingest

import (
	"encoding/json"
	"time"

	"github.com/iotview/sensord/internal/log"
	"github.com/iotview/sensord/internal/model"
	"github.com/iotview/sensord/internal/storage"
)

// Reading converts a parsed message into a storable reading stamped with the
// resolved event time.
func (m *Message) Reading(eventTime time.Time) *model.SensorReading {
	return &model.SensorReading{
		Value:       *m.Payload.Value,
		Unit:        m.Payload.Unit,
		Temperature: m.Payload.Temperature,
		Humidity:    m.Payload.Humidity,
		Timestamp:   eventTime,
	}
}

// Publisher pushes accepted readings to live subscribers. Implemented by the
// MQTT bridge; nil disables echoing.
type Publisher interface {
	PublishReading(deviceID string, payload []byte)
}

// Ingestor is the telemetry write path shared by the HTTP endpoint and the
// MQTT consumer. Validation happens before Ingest is called.
type Ingestor struct {
	store     storage.ReadingStorage
	devices   storage.Storage
	publisher Publisher
}

// NewIngestor creates an ingestor. publisher may be nil.
func NewIngestor(devices storage.Storage, store storage.ReadingStorage, publisher Publisher) *Ingestor {
	return &Ingestor{
		store:     store,
		devices:   devices,
		publisher: publisher,
	}
}

// SetPublisher attaches a live subscriber publisher after construction. The
// MQTT bridge both feeds the ingestor and echoes its output, so it is wired
// in a second step.
func (ing *Ingestor) SetPublisher(p Publisher) {
	ing.publisher = p
}

// Ingest resolves the message topic to a device and appends the reading.
// Unknown devices fail with storage.ErrDeviceNotFound and write nothing;
// devices are never created implicitly. On success the stored reading is
// echoed to live subscribers, fire-and-forget.
func (ing *Ingestor) Ingest(msg *Message, reading *model.SensorReading) (*model.SensorReading, error) {
	deviceID := ResolveTopic(msg.Topic)
	if deviceID == "" {
		return nil, storage.ErrDeviceNotFound
	}

	device, err := ing.devices.GetDevice(deviceID)
	if err != nil {
		return nil, err
	}

	if err := ing.store.AppendReading(device.ID, reading); err != nil {
		return nil, err
	}

	if ing.publisher != nil {
		if payload, err := json.Marshal(reading); err == nil {
			ing.publisher.PublishReading(device.ID, payload)
		}
	}

	log.Debug("reading ingested", "device_id", device.ID, "value", reading.Value, "timestamp", reading.Timestamp)
	return reading, nil
}

