package storage

import (
	"errors"

	"github.com/iotview/sensord/internal/model"
)

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrAlertNotFound    = errors.New("alert not found")
	ErrSettingsNotFound = errors.New("settings not found")
	ErrInvalidID        = errors.New("invalid device ID")
	ErrDeviceExists     = errors.New("device already exists")
)

// Storage defines the interface for device storage
type Storage interface {
	ListDevices(filter *model.DeviceFilter) ([]model.Device, error)
	GetDevice(id string) (*model.Device, error)
	CreateDevice(device *model.Device) error
	UpdateDevice(device *model.Device) error
	DeleteDevice(id string) error
}

// ReadingStorage is implemented by backends that persist sensor readings.
// Readings are append-only: no update or delete operations exist.
type ReadingStorage interface {
	// AppendReading inserts the reading and refreshes the owning device's
	// last_update and updated_at to the reading's event timestamp. The
	// device must exist; orphan readings are rejected.
	AppendReading(deviceID string, reading *model.SensorReading) error
	// LatestReadings returns readings newest-first, honoring the query's
	// device set and limit.
	LatestReadings(q *model.ReadingQuery) ([]model.SensorReading, error)
	// ReadingsInRange returns readings whose event timestamp falls inside
	// [From, To), newest-first.
	ReadingsInRange(q *model.ReadingQuery) ([]model.SensorReading, error)
}

// AlertStorage is implemented by backends that persist device alerts.
type AlertStorage interface {
	CreateAlert(alert *model.DeviceAlert) error
	ListAlerts(filter *model.AlertFilter) ([]model.DeviceAlert, error)
	// LatestAlert returns the most recent alert of the given type for a
	// device, or ErrAlertNotFound when none exists.
	LatestAlert(deviceID, alertType string) (*model.DeviceAlert, error)
	MarkAlertRead(id string) error
}

// SettingsStorage is implemented by backends that persist per-device
// settings. GetSettings returns ErrSettingsNotFound when no row exists;
// callers substitute model.DefaultSettings.
type SettingsStorage interface {
	GetSettings(deviceID string) (*model.DeviceSettings, error)
	SaveSettings(settings *model.DeviceSettings) error
}
