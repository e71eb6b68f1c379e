package storage

import (
	"database/sql"
	"embed"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iotview/sensord/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStorage implements Storage, ReadingStorage, AlertStorage and
// SettingsStorage with a SQLite backend.
type SQLiteStorage struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLite-based storage
func NewSQLiteStorage(dataDir string) (*SQLiteStorage, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "sensord.db")

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ss := &SQLiteStorage{
		db:   db,
		path: dbPath,
	}

	if err := ss.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return ss, nil
}

// initSchema creates the database schema
func (ss *SQLiteStorage) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}

	_, err = ss.db.Exec(string(schema))
	return err
}

// Close closes the database connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

// DatabasePath returns the database file path
func (ss *SQLiteStorage) DatabasePath() string {
	return ss.path
}

// Device storage

// ListDevices returns devices matching the filter, most recently updated
// first.
func (ss *SQLiteStorage) ListDevices(filter *model.DeviceFilter) ([]model.Device, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	query := `
		SELECT id, owner_id, name, type, location, is_active, battery, signal,
		       last_update, created_at, updated_at
		FROM devices
	`
	var conds []string
	var args []interface{}

	if filter != nil {
		if filter.OwnerID != "" {
			conds = append(conds, "owner_id = ?")
			args = append(args, filter.OwnerID)
		}
		if filter.Type != "" {
			conds = append(conds, "type = ?")
			args = append(args, filter.Type)
		}
		if filter.Active != nil {
			conds = append(conds, "is_active = ?")
			args = append(args, boolToInt(*filter.Active))
		}
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := ss.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	return scanDevices(rows)
}

// GetDevice retrieves a device by ID
func (ss *SQLiteStorage) GetDevice(id string) (*model.Device, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	return ss.getDevice(id)
}

func (ss *SQLiteStorage) getDevice(id string) (*model.Device, error) {
	rows, err := ss.db.Query(`
		SELECT id, owner_id, name, type, location, is_active, battery, signal,
		       last_update, created_at, updated_at
		FROM devices
		WHERE id = ?
		LIMIT 1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	defer rows.Close()

	devices, err := scanDevices(rows)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrDeviceNotFound
	}

	return &devices[0], nil
}

// CreateDevice adds a new device
func (ss *SQLiteStorage) CreateDevice(device *model.Device) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if device.ID == "" {
		return ErrInvalidID
	}

	now := time.Now().UTC()
	device.CreatedAt = now
	device.UpdatedAt = now

	_, err := ss.db.Exec(`
		INSERT INTO devices (id, owner_id, name, type, location, is_active, battery, signal, last_update, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, device.ID, device.OwnerID, device.Name, device.Type, device.Location,
		boolToInt(device.IsActive), nullInt(device.Battery), nullInt(device.Signal),
		nullTime(device.LastUpdate), device.CreatedAt, device.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// UpdateDevice updates an existing device's metadata. The last_update column
// is owned by AppendReading and is not touched here.
func (ss *SQLiteStorage) UpdateDevice(device *model.Device) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	device.UpdatedAt = time.Now().UTC()

	result, err := ss.db.Exec(`
		UPDATE devices
		SET owner_id = ?, name = ?, type = ?, location = ?, is_active = ?, battery = ?, signal = ?, updated_at = ?
		WHERE id = ?
	`, device.OwnerID, device.Name, device.Type, device.Location,
		boolToInt(device.IsActive), nullInt(device.Battery), nullInt(device.Signal),
		device.UpdatedAt, device.ID)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// DeleteDevice removes a device and, via foreign keys, its readings, alerts
// and settings.
func (ss *SQLiteStorage) DeleteDevice(id string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	result, err := ss.db.Exec("DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// Reading storage

// AppendReading inserts the reading and refreshes the device's last_update
// to the reading's event timestamp. The insert and the device refresh commit
// together, but under concurrent ingestion for one device the final
// last_update is whichever commit lands last, not necessarily the newest
// event timestamp.
func (ss *SQLiteStorage) AppendReading(deviceID string, reading *model.SensorReading) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, err := ss.getDevice(deviceID); err != nil {
		return err
	}

	now := time.Now().UTC()
	reading.DeviceID = deviceID
	reading.CreatedAt = now
	if reading.Timestamp.IsZero() {
		reading.Timestamp = now
	}

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO sensor_readings (device_id, value, unit, temperature, humidity, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, reading.DeviceID, reading.Value, reading.Unit,
		nullFloat(reading.Temperature), nullFloat(reading.Humidity),
		reading.Timestamp, reading.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		reading.ID = id
	}

	_, err = tx.Exec(`
		UPDATE devices SET last_update = ?, updated_at = ? WHERE id = ?
	`, reading.Timestamp, now, deviceID)
	if err != nil {
		return fmt.Errorf("refreshing device last_update: %w", err)
	}

	return tx.Commit()
}

// LatestReadings returns readings newest-first for the queried devices.
func (ss *SQLiteStorage) LatestReadings(q *model.ReadingQuery) ([]model.SensorReading, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	query := `
		SELECT id, device_id, value, unit, temperature, humidity, timestamp, created_at
		FROM sensor_readings
	`
	var conds []string
	var args []interface{}

	if len(q.DeviceIDs) > 0 {
		conds = append(conds, "device_id IN ("+placeholders(len(q.DeviceIDs))+")")
		for _, id := range q.DeviceIDs {
			args = append(args, id)
		}
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := ss.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// ReadingsInRange returns readings with From <= timestamp < To, newest-first.
func (ss *SQLiteStorage) ReadingsInRange(q *model.ReadingQuery) ([]model.SensorReading, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	query := `
		SELECT id, device_id, value, unit, temperature, humidity, timestamp, created_at
		FROM sensor_readings
	`
	var conds []string
	var args []interface{}

	if len(q.DeviceIDs) > 0 {
		conds = append(conds, "device_id IN ("+placeholders(len(q.DeviceIDs))+")")
		for _, id := range q.DeviceIDs {
			args = append(args, id)
		}
	}
	if !q.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, q.From)
	}
	if !q.To.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, q.To)
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := ss.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// Alert storage

// CreateAlert inserts a new alert row. The device must exist.
func (ss *SQLiteStorage) CreateAlert(alert *model.DeviceAlert) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, err := ss.getDevice(alert.DeviceID); err != nil {
		return err
	}

	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	_, err := ss.db.Exec(`
		INSERT INTO device_alerts (id, device_id, type, severity, message, threshold_value, actual_value, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, alert.ID, alert.DeviceID, alert.Type, alert.Severity, alert.Message,
		nullFloat(alert.ThresholdValue), nullFloat(alert.ActualValue),
		boolToInt(alert.IsRead), alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}

	return nil
}

// ListAlerts returns alerts matching the filter, newest first.
func (ss *SQLiteStorage) ListAlerts(filter *model.AlertFilter) ([]model.DeviceAlert, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	query := `
		SELECT a.id, a.device_id, a.type, a.severity, a.message,
		       a.threshold_value, a.actual_value, a.is_read, a.created_at
		FROM device_alerts a
	`
	var conds []string
	var args []interface{}

	if filter != nil {
		if filter.OwnerID != "" {
			query += " INNER JOIN devices d ON a.device_id = d.id"
			conds = append(conds, "d.owner_id = ?")
			args = append(args, filter.OwnerID)
		}
		if filter.DeviceID != "" {
			conds = append(conds, "a.device_id = ?")
			args = append(args, filter.DeviceID)
		}
		if filter.UnreadOnly {
			conds = append(conds, "a.is_read = 0")
		}
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY a.created_at DESC, a.id DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := ss.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// LatestAlert returns the newest alert of the given type for a device.
func (ss *SQLiteStorage) LatestAlert(deviceID, alertType string) (*model.DeviceAlert, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.Query(`
		SELECT id, device_id, type, severity, message, threshold_value, actual_value, is_read, created_at
		FROM device_alerts
		WHERE device_id = ? AND type = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, deviceID, alertType)
	if err != nil {
		return nil, fmt.Errorf("querying alert: %w", err)
	}
	defer rows.Close()

	alerts, err := scanAlerts(rows)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, ErrAlertNotFound
	}

	return &alerts[0], nil
}

// MarkAlertRead sets the read flag on an alert.
func (ss *SQLiteStorage) MarkAlertRead(id string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	result, err := ss.db.Exec("UPDATE device_alerts SET is_read = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking alert read: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAlertNotFound
	}

	return nil
}

// Settings storage

// GetSettings returns the settings row for a device, or ErrSettingsNotFound.
func (ss *SQLiteStorage) GetSettings(deviceID string) (*model.DeviceSettings, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	var s model.DeviceSettings
	var alertsEnabled int
	err := ss.db.QueryRow(`
		SELECT device_id, min_threshold, max_threshold, alerts_enabled, update_interval
		FROM device_settings
		WHERE device_id = ?
	`, deviceID).Scan(&s.DeviceID, &s.MinThreshold, &s.MaxThreshold, &alertsEnabled, &s.UpdateInterval)
	if err == sql.ErrNoRows {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}

	s.AlertsEnabled = alertsEnabled != 0
	return &s, nil
}

// SaveSettings inserts or replaces the settings row for a device.
func (ss *SQLiteStorage) SaveSettings(settings *model.DeviceSettings) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, err := ss.getDevice(settings.DeviceID); err != nil {
		return err
	}

	_, err := ss.db.Exec(`
		INSERT INTO device_settings (device_id, min_threshold, max_threshold, alerts_enabled, update_interval)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			min_threshold = excluded.min_threshold,
			max_threshold = excluded.max_threshold,
			alerts_enabled = excluded.alerts_enabled,
			update_interval = excluded.update_interval
	`, settings.DeviceID, settings.MinThreshold, settings.MaxThreshold,
		boolToInt(settings.AlertsEnabled), settings.UpdateInterval)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}

	return nil
}

// Helper functions

func scanDevices(rows *sql.Rows) ([]model.Device, error) {
	var devices []model.Device

	for rows.Next() {
		var d model.Device
		var isActive int
		var battery, signal sql.NullInt64
		var lastUpdate sql.NullTime
		err := rows.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Type, &d.Location,
			&isActive, &battery, &signal, &lastUpdate, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.IsActive = isActive != 0
		if battery.Valid {
			v := int(battery.Int64)
			d.Battery = &v
		}
		if signal.Valid {
			v := int(signal.Int64)
			d.Signal = &v
		}
		if lastUpdate.Valid {
			t := lastUpdate.Time
			d.LastUpdate = &t
		}
		devices = append(devices, d)
	}

	return devices, rows.Err()
}

func scanReadings(rows *sql.Rows) ([]model.SensorReading, error) {
	var readings []model.SensorReading

	for rows.Next() {
		var r model.SensorReading
		var temperature, humidity sql.NullFloat64
		err := rows.Scan(&r.ID, &r.DeviceID, &r.Value, &r.Unit,
			&temperature, &humidity, &r.Timestamp, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		if temperature.Valid {
			v := temperature.Float64
			r.Temperature = &v
		}
		if humidity.Valid {
			v := humidity.Float64
			r.Humidity = &v
		}
		readings = append(readings, r)
	}

	return readings, rows.Err()
}

func scanAlerts(rows *sql.Rows) ([]model.DeviceAlert, error) {
	var alerts []model.DeviceAlert

	for rows.Next() {
		var a model.DeviceAlert
		var threshold, actual sql.NullFloat64
		var isRead int
		err := rows.Scan(&a.ID, &a.DeviceID, &a.Type, &a.Severity, &a.Message,
			&threshold, &actual, &isRead, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		if threshold.Valid {
			v := threshold.Float64
			a.ThresholdValue = &v
		}
		if actual.Valid {
			v := actual.Float64
			a.ActualValue = &v
		}
		a.IsRead = isRead != 0
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
