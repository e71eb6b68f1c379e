package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/iotview/sensord/internal/model"
	"github.com/iotview/sensord/internal/storage"
	"github.com/iotview/sensord/internal/telemetry"
)

// listDevices handles GET /api/devices
func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	filter := scopedFilter(caller)
	filter.Type = r.URL.Query().Get("type")
	if v := r.URL.Query().Get("active"); v != "" {
		active := v == "true"
		filter.Active = &active
	}

	devices, err := h.storage.ListDevices(filter)
	if err != nil {
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, devices)
}

// getDevice handles GET /api/devices/{id}
func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	device, ok := h.visibleDevice(w, r.PathValue("id"), caller)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, device)
}

// createDevice handles POST /api/devices
func (h *Handler) createDevice(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	var device model.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if device.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	// Only privileged callers may register devices for someone else
	if !caller.Admin || device.OwnerID == "" {
		device.OwnerID = caller.Subject
	}

	if device.ID == "" {
		device.ID = generateID()
	}
	device.IsActive = true
	device.LastUpdate = nil

	if err := h.storage.CreateDevice(&device); err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidID):
			h.writeError(w, http.StatusBadRequest, "invalid device ID")
		case errors.Is(err, storage.ErrDeviceExists):
			h.writeError(w, http.StatusConflict, "device already exists")
		default:
			h.internalError(w, err)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, device)
}

// updateDevice handles PUT /api/devices/{id}
func (h *Handler) updateDevice(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	existing, ok := h.visibleDevice(w, r.PathValue("id"), caller)
	if !ok {
		return
	}

	var device model.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device.ID = existing.ID
	if !caller.Admin {
		device.OwnerID = existing.OwnerID
	} else if device.OwnerID == "" {
		device.OwnerID = existing.OwnerID
	}

	if err := h.storage.UpdateDevice(&device); err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, device)
}

// deleteDevice handles DELETE /api/devices/{id}
func (h *Handler) deleteDevice(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	device, ok := h.visibleDevice(w, r.PathValue("id"), caller)
	if !ok {
		return
	}

	if err := h.storage.DeleteDevice(device.ID); err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		h.internalError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// recentDevices handles GET /api/devices/recent
func (h *Handler) recentDevices(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	filter := scopedFilter(caller)
	filter.Limit = queryLimit(r, 5)

	devices, err := h.storage.ListDevices(filter)
	if err != nil {
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, devices)
}

// deviceReadings handles GET /api/devices/{id}/readings
func (h *Handler) deviceReadings(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	device, ok := h.visibleDevice(w, r.PathValue("id"), caller)
	if !ok {
		return
	}

	readingStore, ok := h.storage.(storage.ReadingStorage)
	if !ok {
		h.writeError(w, http.StatusNotImplemented, "readings are not supported by this storage backend")
		return
	}

	q := &model.ReadingQuery{
		DeviceIDs: []string{device.ID},
		Limit:     queryLimit(r, 100),
	}

	from, to, err := parseTimeRange(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.From = from
	q.To = to

	var readings []model.SensorReading
	if q.From.IsZero() && q.To.IsZero() {
		readings, err = readingStore.LatestReadings(q)
	} else {
		readings, err = readingStore.ReadingsInRange(q)
	}
	if err != nil {
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, readings)
}

// deviceStatus handles GET /api/devices/{id}/status
func (h *Handler) deviceStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	device, ok := h.visibleDevice(w, r.PathValue("id"), caller)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, telemetry.Status(device, time.Now().UTC()))
}

// getSettings handles GET /api/devices/{id}/settings
func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	device, ok := h.visibleDevice(w, r.PathValue("id"), caller)
	if !ok {
		return
	}

	settingsStore, ok := h.storage.(storage.SettingsStorage)
	if !ok {
		h.writeError(w, http.StatusNotImplemented, "settings are not supported by this storage backend")
		return
	}

	settings, err := settingsStore.GetSettings(device.ID)
	if err != nil {
		if errors.Is(err, storage.ErrSettingsNotFound) {
			h.writeJSON(w, http.StatusOK, model.DefaultSettings(device.ID))
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, settings)
}

// putSettings handles PUT /api/devices/{id}/settings
func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	device, ok := h.visibleDevice(w, r.PathValue("id"), caller)
	if !ok {
		return
	}

	settingsStore, ok := h.storage.(storage.SettingsStorage)
	if !ok {
		h.writeError(w, http.StatusNotImplemented, "settings are not supported by this storage backend")
		return
	}

	var settings model.DeviceSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings.DeviceID = device.ID
	if settings.MinThreshold > settings.MaxThreshold {
		h.writeError(w, http.StatusBadRequest, "min_threshold must not exceed max_threshold")
		return
	}
	if settings.UpdateInterval <= 0 {
		h.writeError(w, http.StatusBadRequest, "update_interval must be positive")
		return
	}

	if err := settingsStore.SaveSettings(&settings); err != nil {
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, settings)
}

// queryLimit parses the limit query parameter with a default
func queryLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// parseTimeRange parses optional RFC3339 from/to query parameters
func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, errors.New("invalid from timestamp")
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, errors.New("invalid to timestamp")
		}
		to = t
	}

	return from, to, nil
}
