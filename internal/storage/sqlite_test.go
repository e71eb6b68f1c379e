package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/iotview/sensord/internal/model"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	ss, err := NewSQLiteStorage(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { ss.Close() })
	return ss
}

func createTestDevice(t *testing.T, ss *SQLiteStorage, id, ownerID string) *model.Device {
	t.Helper()

	device := &model.Device{
		ID:       id,
		OwnerID:  ownerID,
		Name:     "Sensor " + id,
		Type:     "temperature",
		IsActive: true,
	}
	if err := ss.CreateDevice(device); err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}
	return device
}

func TestSQLiteStorage_DeviceCRUD(t *testing.T) {
	ss := newTestStorage(t)

	battery := 80
	device := &model.Device{
		ID:       "dev-1",
		OwnerID:  "alice",
		Name:     "Greenhouse sensor",
		Type:     "temperature",
		Location: "Greenhouse",
		IsActive: true,
		Battery:  &battery,
	}
	if err := ss.CreateDevice(device); err != nil {
		t.Fatalf("CreateDevice failed: %v", err)
	}

	got, err := ss.GetDevice("dev-1")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if got.Name != "Greenhouse sensor" || got.OwnerID != "alice" {
		t.Errorf("Unexpected device: %+v", got)
	}
	if got.Battery == nil || *got.Battery != 80 {
		t.Errorf("Expected battery 80, got %v", got.Battery)
	}
	if got.LastUpdate != nil {
		t.Error("Expected nil last_update for new device")
	}

	got.Name = "Renamed"
	if err := ss.UpdateDevice(got); err != nil {
		t.Fatalf("UpdateDevice failed: %v", err)
	}
	got, _ = ss.GetDevice("dev-1")
	if got.Name != "Renamed" {
		t.Errorf("Expected renamed device, got %q", got.Name)
	}

	if err := ss.DeleteDevice("dev-1"); err != nil {
		t.Fatalf("DeleteDevice failed: %v", err)
	}
	if _, err := ss.GetDevice("dev-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
}

func TestSQLiteStorage_DeviceErrors(t *testing.T) {
	ss := newTestStorage(t)
	createTestDevice(t, ss, "dev-1", "alice")

	if err := ss.CreateDevice(&model.Device{Name: "No ID"}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID, got %v", err)
	}
	if err := ss.CreateDevice(&model.Device{ID: "dev-1", Name: "Duplicate"}); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Expected ErrDeviceExists, got %v", err)
	}
	if err := ss.UpdateDevice(&model.Device{ID: "ghost", Name: "Ghost"}); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
	if err := ss.DeleteDevice("ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
}

func TestSQLiteStorage_ListDevices(t *testing.T) {
	ss := newTestStorage(t)
	createTestDevice(t, ss, "dev-1", "alice")
	createTestDevice(t, ss, "dev-2", "alice")
	createTestDevice(t, ss, "dev-3", "bob")

	devices, err := ss.ListDevices(&model.DeviceFilter{})
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devices) != 3 {
		t.Errorf("Expected 3 devices, got %d", len(devices))
	}

	devices, _ = ss.ListDevices(&model.DeviceFilter{OwnerID: "alice"})
	if len(devices) != 2 {
		t.Errorf("Expected 2 devices for alice, got %d", len(devices))
	}

	inactive := false
	devices, _ = ss.ListDevices(&model.DeviceFilter{Active: &inactive})
	if len(devices) != 0 {
		t.Errorf("Expected no inactive devices, got %d", len(devices))
	}

	devices, _ = ss.ListDevices(&model.DeviceFilter{Limit: 1})
	if len(devices) != 1 {
		t.Errorf("Expected limit respected, got %d devices", len(devices))
	}
}

func TestSQLiteStorage_AppendReadingRefreshesLastUpdate(t *testing.T) {
	ss := newTestStorage(t)
	createTestDevice(t, ss, "dev-1", "alice")

	eventTime := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	reading := &model.SensorReading{Value: 21.5, Unit: "C", Timestamp: eventTime}
	if err := ss.AppendReading("dev-1", reading); err != nil {
		t.Fatalf("AppendReading failed: %v", err)
	}
	if reading.ID == 0 {
		t.Error("Expected reading ID assigned")
	}

	device, err := ss.GetDevice("dev-1")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if device.LastUpdate == nil {
		t.Fatal("Expected last_update set after reading")
	}
	if !device.LastUpdate.Equal(eventTime) {
		t.Errorf("Expected last_update %v, got %v", eventTime, device.LastUpdate)
	}
}

func TestSQLiteStorage_AppendReadingOrphanRejected(t *testing.T) {
	ss := newTestStorage(t)

	err := ss.AppendReading("ghost", &model.SensorReading{Value: 1})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}

	readings, err := ss.LatestReadings(&model.ReadingQuery{})
	if err != nil {
		t.Fatalf("LatestReadings failed: %v", err)
	}
	if len(readings) != 0 {
		t.Errorf("Expected no readings stored, got %d", len(readings))
	}
}

func TestSQLiteStorage_DuplicateTimestampsAllowed(t *testing.T) {
	ss := newTestStorage(t)
	createTestDevice(t, ss, "dev-1", "alice")

	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		reading := &model.SensorReading{Value: float64(i), Timestamp: ts}
		if err := ss.AppendReading("dev-1", reading); err != nil {
			t.Fatalf("AppendReading %d failed: %v", i, err)
		}
	}

	readings, err := ss.LatestReadings(&model.ReadingQuery{DeviceIDs: []string{"dev-1"}})
	if err != nil {
		t.Fatalf("LatestReadings failed: %v", err)
	}
	if len(readings) != 3 {
		t.Errorf("Expected 3 readings with identical timestamps, got %d", len(readings))
	}
}

func TestSQLiteStorage_ReadingsInRange(t *testing.T) {
	ss := newTestStorage(t)
	createTestDevice(t, ss, "dev-1", "alice")

	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		reading := &model.SensorReading{Value: float64(i), Timestamp: base.Add(time.Duration(i) * time.Hour)}
		if err := ss.AppendReading("dev-1", reading); err != nil {
			t.Fatalf("AppendReading failed: %v", err)
		}
	}

	// Half-open interval: From inclusive, To exclusive
	readings, err := ss.ReadingsInRange(&model.ReadingQuery{
		DeviceIDs: []string{"dev-1"},
		From:      base.Add(time.Hour),
		To:        base.Add(3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("ReadingsInRange failed: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("Expected 2 readings in [1h, 3h), got %d", len(readings))
	}
	if readings[0].Value != 2 || readings[1].Value != 1 {
		t.Errorf("Expected newest-first values [2 1], got [%v %v]", readings[0].Value, readings[1].Value)
	}
}

func TestSQLiteStorage_DeleteDeviceCascades(t *testing.T) {
	ss := newTestStorage(t)
	createTestDevice(t, ss, "dev-1", "alice")

	if err := ss.AppendReading("dev-1", &model.SensorReading{Value: 1}); err != nil {
		t.Fatalf("AppendReading failed: %v", err)
	}
	if err := ss.CreateAlert(&model.DeviceAlert{ID: "alert-1", DeviceID: "dev-1", Type: "offline", Severity: "warning"}); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}
	if err := ss.SaveSettings(&model.DeviceSettings{DeviceID: "dev-1", MaxThreshold: 50, UpdateInterval: 60}); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	if err := ss.DeleteDevice("dev-1"); err != nil {
		t.Fatalf("DeleteDevice failed: %v", err)
	}

	readings, _ := ss.LatestReadings(&model.ReadingQuery{DeviceIDs: []string{"dev-1"}})
	if len(readings) != 0 {
		t.Errorf("Expected readings cascaded away, got %d", len(readings))
	}
	alerts, _ := ss.ListAlerts(&model.AlertFilter{DeviceID: "dev-1"})
	if len(alerts) != 0 {
		t.Errorf("Expected alerts cascaded away, got %d", len(alerts))
	}
	if _, err := ss.GetSettings("dev-1"); !errors.Is(err, ErrSettingsNotFound) {
		t.Errorf("Expected settings cascaded away, got %v", err)
	}
}

func TestSQLiteStorage_AlertsStackWithoutDeduplication(t *testing.T) {
	ss := newTestStorage(t)
	createTestDevice(t, ss, "dev-1", "alice")

	for i, id := range []string{"alert-1", "alert-2", "alert-3"} {
		alert := &model.DeviceAlert{
			ID:        id,
			DeviceID:  "dev-1",
			Type:      "threshold",
			Severity:  "warning",
			Message:   "same condition",
			CreatedAt: time.Date(2026, 8, 29, 10, i, 0, 0, time.UTC),
		}
		if err := ss.CreateAlert(alert); err != nil {
			t.Fatalf("CreateAlert %s failed: %v", id, err)
		}
	}

	alerts, err := ss.ListAlerts(&model.AlertFilter{DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("Expected 3 stacked alerts, got %d", len(alerts))
	}
	if alerts[0].ID != "alert-3" {
		t.Errorf("Expected newest alert first, got %s", alerts[0].ID)
	}

	latest, err := ss.LatestAlert("dev-1", "threshold")
	if err != nil {
		t.Fatalf("LatestAlert failed: %v", err)
	}
	if latest.ID != "alert-3" {
		t.Errorf("Expected latest alert alert-3, got %s", latest.ID)
	}

	if _, err := ss.LatestAlert("dev-1", "offline"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("Expected ErrAlertNotFound for unused type, got %v", err)
	}
}

func TestSQLiteStorage_ListAlertsOwnerScoped(t *testing.T) {
	ss := newTestStorage(t)
	createTestDevice(t, ss, "dev-alice", "alice")
	createTestDevice(t, ss, "dev-bob", "bob")

	for _, a := range []struct{ id, deviceID string }{
		{"alert-1", "dev-alice"},
		{"alert-2", "dev-bob"},
	} {
		if err := ss.CreateAlert(&model.DeviceAlert{ID: a.id, DeviceID: a.deviceID, Type: "offline", Severity: "warning"}); err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}
	}

	alerts, err := ss.ListAlerts(&model.AlertFilter{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 1 || alerts[0].DeviceID != "dev-alice" {
		t.Errorf("Expected only alice's alert, got %+v", alerts)
	}
}

func TestSQLiteStorage_MarkAlertRead(t *testing.T) {
	ss := newTestStorage(t)
	createTestDevice(t, ss, "dev-1", "alice")

	if err := ss.CreateAlert(&model.DeviceAlert{ID: "alert-1", DeviceID: "dev-1", Type: "offline", Severity: "warning"}); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}

	if err := ss.MarkAlertRead("alert-1"); err != nil {
		t.Fatalf("MarkAlertRead failed: %v", err)
	}
	unread, _ := ss.ListAlerts(&model.AlertFilter{UnreadOnly: true})
	if len(unread) != 0 {
		t.Errorf("Expected no unread alerts, got %d", len(unread))
	}

	if err := ss.MarkAlertRead("ghost"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("Expected ErrAlertNotFound, got %v", err)
	}
}

func TestSQLiteStorage_Settings(t *testing.T) {
	ss := newTestStorage(t)
	createTestDevice(t, ss, "dev-1", "alice")

	if _, err := ss.GetSettings("dev-1"); !errors.Is(err, ErrSettingsNotFound) {
		t.Errorf("Expected ErrSettingsNotFound for missing row, got %v", err)
	}

	settings := &model.DeviceSettings{
		DeviceID:       "dev-1",
		MinThreshold:   10,
		MaxThreshold:   30,
		AlertsEnabled:  true,
		UpdateInterval: 120,
	}
	if err := ss.SaveSettings(settings); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	got, err := ss.GetSettings("dev-1")
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if got.MinThreshold != 10 || got.MaxThreshold != 30 || !got.AlertsEnabled || got.UpdateInterval != 120 {
		t.Errorf("Unexpected settings: %+v", got)
	}

	// Upsert
	settings.AlertsEnabled = false
	if err := ss.SaveSettings(settings); err != nil {
		t.Fatalf("SaveSettings upsert failed: %v", err)
	}
	got, _ = ss.GetSettings("dev-1")
	if got.AlertsEnabled {
		t.Error("Expected alerts disabled after upsert")
	}

	if err := ss.SaveSettings(&model.DeviceSettings{DeviceID: "ghost"}); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound for unknown device, got %v", err)
	}
}
