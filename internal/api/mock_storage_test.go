package api

import (
	"sort"
	"time"

	"github.com/iotview/sensord/internal/model"
	"github.com/iotview/sensord/internal/storage"
)

// mockStorage is a simple in-memory storage for testing
type mockStorage struct {
	devices       map[string]*model.Device
	readings      []model.SensorReading
	alerts        []model.DeviceAlert
	settings      map[string]*model.DeviceSettings
	nextReadingID int64
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		devices:  make(map[string]*model.Device),
		settings: make(map[string]*model.DeviceSettings),
	}
}

// Device storage

func (m *mockStorage) ListDevices(filter *model.DeviceFilter) ([]model.Device, error) {
	result := make([]model.Device, 0, len(m.devices))
	for _, d := range m.devices {
		if filter.OwnerID != "" && d.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Type != "" && d.Type != filter.Type {
			continue
		}
		if filter.Active != nil && d.IsActive != *filter.Active {
			continue
		}
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStorage) GetDevice(id string) (*model.Device, error) {
	if d, ok := m.devices[id]; ok {
		clone := *d
		return &clone, nil
	}
	return nil, storage.ErrDeviceNotFound
}

func (m *mockStorage) CreateDevice(device *model.Device) error {
	if _, ok := m.devices[device.ID]; ok {
		return storage.ErrDeviceExists
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now()
	}
	if device.UpdatedAt.IsZero() {
		device.UpdatedAt = time.Now()
	}
	clone := *device
	m.devices[device.ID] = &clone
	return nil
}

func (m *mockStorage) UpdateDevice(device *model.Device) error {
	if _, ok := m.devices[device.ID]; !ok {
		return storage.ErrDeviceNotFound
	}
	device.UpdatedAt = time.Now()
	clone := *device
	m.devices[device.ID] = &clone
	return nil
}

func (m *mockStorage) DeleteDevice(id string) error {
	if _, ok := m.devices[id]; !ok {
		return storage.ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

// Reading storage

func (m *mockStorage) AppendReading(deviceID string, reading *model.SensorReading) error {
	device, ok := m.devices[deviceID]
	if !ok {
		return storage.ErrDeviceNotFound
	}

	m.nextReadingID++
	reading.ID = m.nextReadingID
	reading.DeviceID = deviceID
	if reading.CreatedAt.IsZero() {
		reading.CreatedAt = time.Now()
	}
	m.readings = append(m.readings, *reading)

	ts := reading.Timestamp
	device.LastUpdate = &ts
	device.UpdatedAt = ts
	return nil
}

func (m *mockStorage) LatestReadings(q *model.ReadingQuery) ([]model.SensorReading, error) {
	return m.queryReadings(q, false), nil
}

func (m *mockStorage) ReadingsInRange(q *model.ReadingQuery) ([]model.SensorReading, error) {
	return m.queryReadings(q, true), nil
}

func (m *mockStorage) queryReadings(q *model.ReadingQuery, ranged bool) []model.SensorReading {
	wanted := make(map[string]bool, len(q.DeviceIDs))
	for _, id := range q.DeviceIDs {
		wanted[id] = true
	}

	result := make([]model.SensorReading, 0)
	for _, r := range m.readings {
		if len(wanted) > 0 && !wanted[r.DeviceID] {
			continue
		}
		if ranged {
			if !q.From.IsZero() && r.Timestamp.Before(q.From) {
				continue
			}
			if !q.To.IsZero() && !r.Timestamp.Before(q.To) {
				continue
			}
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID > result[j].ID
		}
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result
}

// Alert storage

func (m *mockStorage) CreateAlert(alert *model.DeviceAlert) error {
	if _, ok := m.devices[alert.DeviceID]; !ok {
		return storage.ErrDeviceNotFound
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	m.alerts = append(m.alerts, *alert)
	return nil
}

func (m *mockStorage) ListAlerts(filter *model.AlertFilter) ([]model.DeviceAlert, error) {
	result := make([]model.DeviceAlert, 0)
	for _, a := range m.alerts {
		if filter.DeviceID != "" && a.DeviceID != filter.DeviceID {
			continue
		}
		if filter.OwnerID != "" {
			device, ok := m.devices[a.DeviceID]
			if !ok || device.OwnerID != filter.OwnerID {
				continue
			}
		}
		if filter.UnreadOnly && a.IsRead {
			continue
		}
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStorage) LatestAlert(deviceID, alertType string) (*model.DeviceAlert, error) {
	var latest *model.DeviceAlert
	for i := range m.alerts {
		a := &m.alerts[i]
		if a.DeviceID != deviceID || a.Type != alertType {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, storage.ErrAlertNotFound
	}
	clone := *latest
	return &clone, nil
}

func (m *mockStorage) MarkAlertRead(id string) error {
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].IsRead = true
			return nil
		}
	}
	return storage.ErrAlertNotFound
}

// Settings storage

func (m *mockStorage) GetSettings(deviceID string) (*model.DeviceSettings, error) {
	if s, ok := m.settings[deviceID]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, storage.ErrSettingsNotFound
}

func (m *mockStorage) SaveSettings(settings *model.DeviceSettings) error {
	if _, ok := m.devices[settings.DeviceID]; !ok {
		return storage.ErrDeviceNotFound
	}
	clone := *settings
	m.settings[settings.DeviceID] = &clone
	return nil
}
