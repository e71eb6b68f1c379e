package model

// DeviceSettings is the optional one-to-one settings row for a device.
// Devices without a row get DefaultSettings.
type DeviceSettings struct {
	DeviceID       string  `json:"device_id"`
	MinThreshold   float64 `json:"min_threshold"`
	MaxThreshold   float64 `json:"max_threshold"`
	AlertsEnabled  bool    `json:"alerts_enabled"`
	UpdateInterval int     `json:"update_interval"` // seconds between expected reports
}

// DefaultSettings returns the settings applied when a device has no
// persisted settings row.
func DefaultSettings(deviceID string) *DeviceSettings {
	return &DeviceSettings{
		DeviceID:       deviceID,
		MinThreshold:   0,
		MaxThreshold:   100,
		AlertsEnabled:  true,
		UpdateInterval: 60,
	}
}
