// Package ingest implements the telemetry ingestion path: HMAC validation
// of inbound messages, payload parsing, topic resolution and the append into
// the reading store.
package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SignatureHeader carries the HMAC of the raw request body on the HTTP
// ingest endpoint.
const SignatureHeader = "x-ingest-signature"

const signaturePrefix = "sha256="

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Message is a parsed telemetry message. Topic identifies the device; the
// payload fields mirror what devices publish.
type Message struct {
	Topic   string           `json:"topic"`
	Payload TelemetryPayload `json:"payload"`
}

// TelemetryPayload is the device-reported sample. Value is required; the
// rest is optional. Timestamp defaults to ingestion time when absent.
type TelemetryPayload struct {
	Value       *float64 `json:"value"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
}

// VerifySignature checks the signature header against an HMAC-SHA256 over
// the exact raw bytes of the body. The body must never be parsed, or even
// re-encoded, before this check passes: any reformatting would change the
// bytes the sender signed.
func VerifySignature(rawBody []byte, header, secret string) error {
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrInvalidSignature
	}

	claimed, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil || len(claimed) != sha256.Size {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	if !hmac.Equal(mac.Sum(nil), claimed) {
		return ErrInvalidSignature
	}

	return nil
}

// Sign computes the signature header value for a body. Used by tests and by
// publishing clients.
func Sign(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// ParseMessage parses a raw telemetry body. Call only after the signature
// has been verified.
func ParseMessage(rawBody []byte, now time.Time) (*Message, time.Time, error) {
	var msg Message
	if err := json.Unmarshal(rawBody, &msg); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if msg.Payload.Value == nil {
		return nil, time.Time{}, fmt.Errorf("%w: missing value", ErrMalformedPayload)
	}

	eventTime := now
	if msg.Payload.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, msg.Payload.Timestamp)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedPayload, msg.Payload.Timestamp)
		}
		eventTime = t
	}

	return &msg, eventTime, nil
}

// ResolveTopic extracts a device ID from a telemetry topic of the form
// devices/<id>/telemetry. A bare device ID is accepted as well; anything
// else resolves to empty.
func ResolveTopic(topic string) string {
	parts := strings.Split(topic, "/")
	switch {
	case len(parts) == 3 && parts[0] == "devices" && parts[2] == "telemetry":
		return parts[1]
	case len(parts) == 1 && parts[0] != "":
		return parts[0]
	}
	return ""
}
