package model

import (
	"time"
)

// Device represents a registered sensor device. LastUpdate is refreshed on
// every accepted telemetry message and is the canonical freshness field used
// for liveness; UpdatedAt tracks row mutations of any kind.
type Device struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Location   string     `json:"location,omitempty"`
	IsActive   bool       `json:"is_active"`
	Battery    *int       `json:"battery,omitempty"`
	Signal     *int       `json:"signal,omitempty"`
	LastUpdate *time.Time `json:"last_update,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DeviceFilter holds filter criteria for listing devices. An empty OwnerID
// means no owner scoping (privileged callers see all devices).
type DeviceFilter struct {
	OwnerID string
	Type    string
	Active  *bool
	Limit   int
}
