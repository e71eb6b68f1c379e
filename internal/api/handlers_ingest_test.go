package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iotview/sensord/internal/alert"
	"github.com/iotview/sensord/internal/ingest"
	"github.com/iotview/sensord/internal/model"
)

// doIngest posts a signed (or deliberately mis-signed) telemetry body
func doIngest(t *testing.T, handler http.Handler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(ingest.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIngest_Accepted(t *testing.T) {
	handler, ms := setupTestHandler()
	seedDevice(t, ms, "dev-1", "alice", "Sensor")

	body := `{"topic":"devices/dev-1/telemetry","payload":{"value":21.5,"unit":"C","timestamp":"2026-08-29T10:00:00Z"}}`
	rec := doIngest(t, handler, body, ingest.Sign([]byte(body), testIngestSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var stored model.SensorReading
	decodeBody(t, rec, &stored)
	if stored.DeviceID != "dev-1" || stored.Value != 21.5 {
		t.Errorf("Unexpected stored reading: %+v", stored)
	}

	want := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	if !stored.Timestamp.Equal(want) {
		t.Errorf("Expected event timestamp %v, got %v", want, stored.Timestamp)
	}

	// The accepted reading refreshes the device's freshness marker
	device, err := ms.GetDevice("dev-1")
	if err != nil {
		t.Fatalf("Failed to load device: %v", err)
	}
	if device.LastUpdate == nil || !device.LastUpdate.Equal(want) {
		t.Errorf("Expected last update %v, got %v", want, device.LastUpdate)
	}
}

func TestIngest_TimestampDefaultsToNow(t *testing.T) {
	handler, ms := setupTestHandler()
	seedDevice(t, ms, "dev-1", "alice", "Sensor")

	before := time.Now().UTC()
	body := `{"topic":"devices/dev-1/telemetry","payload":{"value":3.2}}`
	rec := doIngest(t, handler, body, ingest.Sign([]byte(body), testIngestSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var stored model.SensorReading
	decodeBody(t, rec, &stored)
	if stored.Timestamp.Before(before) || stored.Timestamp.After(time.Now().UTC()) {
		t.Errorf("Expected ingestion-time timestamp, got %v", stored.Timestamp)
	}
}

func TestIngest_InvalidSignature(t *testing.T) {
	handler, ms := setupTestHandler()
	seedDevice(t, ms, "dev-1", "alice", "Sensor")

	body := `{"topic":"devices/dev-1/telemetry","payload":{"value":1}}`

	cases := []struct {
		name      string
		signature string
	}{
		{"missing header", ""},
		{"wrong secret", ingest.Sign([]byte(body), "other-secret")},
		{"signature of different bytes", ingest.Sign([]byte(body+" "), testIngestSecret)},
		{"no prefix", "deadbeef"},
		{"not hex", "sha256=zzzz"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doIngest(t, handler, body, tc.signature)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", rec.Code)
			}
		})
	}

	if len(ms.readings) != 0 {
		t.Errorf("Expected no readings stored, got %d", len(ms.readings))
	}
}

func TestIngest_MalformedPayload(t *testing.T) {
	handler, ms := setupTestHandler()
	seedDevice(t, ms, "dev-1", "alice", "Sensor")

	cases := []struct {
		name string
		body string
	}{
		{"not json", "not json at all"},
		{"missing value", `{"topic":"devices/dev-1/telemetry","payload":{"unit":"C"}}`},
		{"bad timestamp", `{"topic":"devices/dev-1/telemetry","payload":{"value":1,"timestamp":"yesterday"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Correctly signed: signature validity and payload validity are
			// independent checks.
			rec := doIngest(t, handler, tc.body, ingest.Sign([]byte(tc.body), testIngestSecret))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", rec.Code)
			}
		})
	}

	if len(ms.readings) != 0 {
		t.Errorf("Expected no readings stored, got %d", len(ms.readings))
	}
}

func TestIngest_UnknownDevice(t *testing.T) {
	handler, ms := setupTestHandler()

	body := `{"topic":"devices/ghost/telemetry","payload":{"value":1}}`
	rec := doIngest(t, handler, body, ingest.Sign([]byte(body), testIngestSecret))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
	if len(ms.readings) != 0 {
		t.Errorf("Expected no readings stored for unknown device, got %d", len(ms.readings))
	}
}

func TestIngest_NotConfigured(t *testing.T) {
	ms := newMockStorage()
	ingestor := ingest.NewIngestor(ms, ms, nil)
	recorder := alert.NewRecorder(ms, ms)
	handler := NewHandler(ms, ingestor, recorder, "")

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	body := `{"topic":"devices/dev-1/telemetry","payload":{"value":1}}`
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
}
