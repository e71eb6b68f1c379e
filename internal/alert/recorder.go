// Package alert records device alerts. Recording is deliberately dumb: no
// deduplication, no suppression, no rate limiting. Every call is a new row.
package alert

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/iotview/sensord/internal/log"
	"github.com/iotview/sensord/internal/model"
	"github.com/iotview/sensord/internal/storage"
)

// Recorder validates device existence and inserts alert rows.
type Recorder struct {
	devices storage.Storage
	alerts  storage.AlertStorage
}

// NewRecorder creates an alert recorder.
func NewRecorder(devices storage.Storage, alerts storage.AlertStorage) *Recorder {
	return &Recorder{devices: devices, alerts: alerts}
}

// Record creates a new alert for a device. Severity defaults to warning,
// message to a template embedding the type and device name. The device must
// exist; unknown devices fail with storage.ErrDeviceNotFound.
func (r *Recorder) Record(deviceID, alertType, severity, message string, thresholdValue, actualValue *float64) (*model.DeviceAlert, error) {
	device, err := r.devices.GetDevice(deviceID)
	if err != nil {
		return nil, err
	}

	if severity == "" {
		severity = model.SeverityWarning
	}
	if message == "" {
		message = fmt.Sprintf("%s alert for %s", alertType, device.Name)
	}

	a := &model.DeviceAlert{
		ID:             generateID(),
		DeviceID:       device.ID,
		Type:           alertType,
		Severity:       severity,
		Message:        message,
		ThresholdValue: thresholdValue,
		ActualValue:    actualValue,
		IsRead:         false,
	}

	if err := r.alerts.CreateAlert(a); err != nil {
		return nil, err
	}

	log.Info("alert recorded", "device_id", device.ID, "type", alertType, "severity", severity)
	return a, nil
}

// generateID generates a UUIDv7 for an alert
func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
