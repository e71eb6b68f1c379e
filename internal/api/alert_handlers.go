package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iotview/sensord/internal/model"
	"github.com/iotview/sensord/internal/storage"
)

// createAlert handles POST /api/alerts, the auto-alert endpoint used by
// external rules and by devices that detect threshold conditions themselves.
func (h *Handler) createAlert(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		DeviceID       string   `json:"device_id"`
		Type           string   `json:"type"`
		Severity       string   `json:"severity"`
		Message        string   `json:"message"`
		ThresholdValue *float64 `json:"threshold_value"`
		ActualValue    *float64 `json:"actual_value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.DeviceID == "" {
		h.writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if req.Type == "" {
		h.writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	if req.Severity != "" && !model.ValidSeverity(req.Severity) {
		h.writeError(w, http.StatusBadRequest, "invalid severity")
		return
	}

	// Scoping applies to alert creation too
	if _, ok := h.visibleDevice(w, req.DeviceID, caller); !ok {
		return
	}

	a, err := h.recorder.Record(req.DeviceID, req.Type, req.Severity, req.Message, req.ThresholdValue, req.ActualValue)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"alert":   a,
	})
}

// listAlerts handles GET /api/alerts
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	alertStore, ok := h.storage.(storage.AlertStorage)
	if !ok {
		h.writeError(w, http.StatusNotImplemented, "alerts are not supported by this storage backend")
		return
	}

	filter := &model.AlertFilter{
		UnreadOnly: r.URL.Query().Get("unread") == "true",
		Limit:      queryLimit(r, 50),
	}
	if !caller.Admin {
		filter.OwnerID = caller.Subject
	}
	if id := r.URL.Query().Get("device_id"); id != "" {
		if _, ok := h.visibleDevice(w, id, caller); !ok {
			return
		}
		filter.DeviceID = id
	}

	alerts, err := alertStore.ListAlerts(filter)
	if err != nil {
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, alerts)
}

// markAlertRead handles POST /api/alerts/{id}/read
func (h *Handler) markAlertRead(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	alertStore, ok := h.storage.(storage.AlertStorage)
	if !ok {
		h.writeError(w, http.StatusNotImplemented, "alerts are not supported by this storage backend")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "alert ID required")
		return
	}

	// Non-admin callers may only touch alerts on their own devices
	if !caller.Admin {
		alerts, err := alertStore.ListAlerts(&model.AlertFilter{OwnerID: caller.Subject})
		if err != nil {
			h.internalError(w, err)
			return
		}
		owned := false
		for _, a := range alerts {
			if a.ID == id {
				owned = true
				break
			}
		}
		if !owned {
			h.writeError(w, http.StatusNotFound, "alert not found")
			return
		}
	}

	if err := alertStore.MarkAlertRead(id); err != nil {
		if errors.Is(err, storage.ErrAlertNotFound) {
			h.writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
