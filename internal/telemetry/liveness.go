// Package telemetry holds the pure telemetry core: device liveness
// derivation and time-window aggregation over reading timestamps.
package telemetry

import (
	"time"

	"github.com/iotview/sensord/internal/model"
)

// StalenessWindow is how long a device may stay silent before it is
// considered offline. One constant for every liveness check in the system.
const StalenessWindow = 5 * time.Minute

// IsOnline reports whether the device counts as online at the given instant:
// it must be active, have reported at least once, and its last update must
// be at most StalenessWindow old. The boundary is inclusive: a device seen
// exactly StalenessWindow ago is still online.
func IsOnline(device *model.Device, now time.Time) bool {
	if !device.IsActive || device.LastUpdate == nil {
		return false
	}
	return now.Sub(*device.LastUpdate) <= StalenessWindow
}

// DeviceStatus is the liveness view of a device.
type DeviceStatus struct {
	DeviceID   string     `json:"device_id"`
	Online     bool       `json:"online"`
	LastUpdate *time.Time `json:"last_update,omitempty"`
}

// Status derives the liveness view for a device at the given instant.
func Status(device *model.Device, now time.Time) DeviceStatus {
	return DeviceStatus{
		DeviceID:   device.ID,
		Online:     IsOnline(device, now),
		LastUpdate: device.LastUpdate,
	}
}
