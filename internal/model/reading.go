package model

import (
	"time"
)

// SensorReading is one accepted telemetry sample. Timestamp is event time as
// reported by the device (ingestion time when the payload omits it);
// CreatedAt is when the row was inserted. Readings are append-only.
type SensorReading struct {
	ID          int64     `json:"id"`
	DeviceID    string    `json:"device_id"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReadingQuery selects readings for one or more devices. From/To bound the
// event timestamp; zero values leave that side open. Results are ordered by
// timestamp, newest first.
type ReadingQuery struct {
	DeviceIDs []string
	From      time.Time
	To        time.Time
	Limit     int
}
