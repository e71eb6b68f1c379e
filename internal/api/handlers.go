package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/iotview/sensord/internal/alert"
	"github.com/iotview/sensord/internal/authz"
	"github.com/iotview/sensord/internal/ingest"
	"github.com/iotview/sensord/internal/log"
	"github.com/iotview/sensord/internal/model"
	"github.com/iotview/sensord/internal/storage"
)

// Handler handles HTTP requests
type Handler struct {
	storage      storage.Storage
	ingestor     *ingest.Ingestor
	recorder     *alert.Recorder
	ingestSecret string
}

// NewHandler creates a new API handler. An empty ingestSecret disables the
// ingest endpoint.
func NewHandler(s storage.Storage, ingestor *ingest.Ingestor, recorder *alert.Recorder, ingestSecret string) *Handler {
	return &Handler{
		storage:      s,
		ingestor:     ingestor,
		recorder:     recorder,
		ingestSecret: ingestSecret,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Telemetry ingestion (HMAC-authenticated, no bearer token)
	mux.HandleFunc("POST /api/ingest", h.ingestTelemetry)

	// Device CRUD
	mux.HandleFunc("GET /api/devices", h.listDevices)
	mux.HandleFunc("POST /api/devices", h.createDevice)
	mux.HandleFunc("GET /api/devices/recent", h.recentDevices)
	mux.HandleFunc("GET /api/devices/{id}", h.getDevice)
	mux.HandleFunc("PUT /api/devices/{id}", h.updateDevice)
	mux.HandleFunc("DELETE /api/devices/{id}", h.deleteDevice)

	// Per-device telemetry views
	mux.HandleFunc("GET /api/devices/{id}/readings", h.deviceReadings)
	mux.HandleFunc("GET /api/devices/{id}/status", h.deviceStatus)
	mux.HandleFunc("GET /api/devices/{id}/settings", h.getSettings)
	mux.HandleFunc("PUT /api/devices/{id}/settings", h.putSettings)

	// Alerts
	mux.HandleFunc("POST /api/alerts", h.createAlert)
	mux.HandleFunc("GET /api/alerts", h.listAlerts)
	mux.HandleFunc("POST /api/alerts/{id}/read", h.markAlertRead)

	// Aggregations
	mux.HandleFunc("GET /api/stats/message-rate", h.messageRate)
	mux.HandleFunc("GET /api/stats/traffic", h.traffic)
	mux.HandleFunc("GET /api/stats/online-history", h.onlineHistory)
	mux.HandleFunc("GET /api/stats/health", h.systemHealth)
	mux.HandleFunc("GET /api/readings/recent", h.recentReadings)
}

// identity returns the caller identity injected by the auth middleware.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (authz.Identity, bool) {
	id, ok := authz.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return authz.Identity{}, false
	}
	return id, true
}

// visibleDevice loads a device and checks the caller may see it. Non-owners
// get a 404, not a 403, so device IDs are not probeable.
func (h *Handler) visibleDevice(w http.ResponseWriter, id string, caller authz.Identity) (*model.Device, bool) {
	device, err := h.storage.GetDevice(id)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return nil, false
		}
		h.internalError(w, err)
		return nil, false
	}

	if !caller.Admin && device.OwnerID != caller.Subject {
		h.writeError(w, http.StatusNotFound, "device not found")
		return nil, false
	}

	return device, true
}

// scopedFilter returns a device filter limited to the caller's devices
// unless the caller is privileged.
func scopedFilter(caller authz.Identity) *model.DeviceFilter {
	if caller.Admin {
		return &model.DeviceFilter{}
	}
	return &model.DeviceFilter{OwnerID: caller.Subject}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// internalError logs the error and writes a generic 500 response
func (h *Handler) internalError(w http.ResponseWriter, err error) {
	log.Error("internal server error", "error", err)
	h.writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

// generateID generates a UUIDv7 for a device
func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
