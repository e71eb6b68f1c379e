package model

import (
	"time"
)

// Alert severities. Anything else is rejected at the API boundary.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ValidSeverity reports whether s is a known alert severity.
func ValidSeverity(s string) bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// DeviceAlert is a recorded alert condition for a device. Rows are immutable
// once created except for the read flag.
type DeviceAlert struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"device_id"`
	Type           string    `json:"type"`
	Severity       string    `json:"severity"`
	Message        string    `json:"message"`
	ThresholdValue *float64  `json:"threshold_value,omitempty"`
	ActualValue    *float64  `json:"actual_value,omitempty"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// AlertFilter holds filter criteria for listing alerts.
type AlertFilter struct {
	DeviceID   string
	OwnerID    string
	UnreadOnly bool
	Limit      int
}
