package api

import (
	"net/http"
	"time"

	"github.com/iotview/sensord/internal/authz"
	"github.com/iotview/sensord/internal/model"
	"github.com/iotview/sensord/internal/storage"
	"github.com/iotview/sensord/internal/telemetry"
)

// visibleDevices lists the devices the caller may see.
func (h *Handler) visibleDevices(caller authz.Identity) ([]model.Device, error) {
	return h.storage.ListDevices(scopedFilter(caller))
}

// readingTimes collects event timestamps of the caller's readings within the
// trailing window ending at now.
func (h *Handler) readingTimes(caller authz.Identity, now time.Time, window time.Duration) ([]time.Time, error) {
	readingStore, ok := h.storage.(storage.ReadingStorage)
	if !ok {
		return nil, nil
	}

	devices, err := h.visibleDevices(caller)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}

	readings, err := readingStore.ReadingsInRange(&model.ReadingQuery{
		DeviceIDs: ids,
		From:      now.Add(-window),
	})
	if err != nil {
		return nil, err
	}

	times := make([]time.Time, 0, len(readings))
	for _, r := range readings {
		times = append(times, r.Timestamp)
	}
	return times, nil
}

// messageRate handles GET /api/stats/message-rate
func (h *Handler) messageRate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	now := time.Now().UTC()
	times, err := h.readingTimes(caller, now, time.Minute)
	if err != nil {
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]float64{
		"messages_per_second": telemetry.MessageRate(times, now),
	})
}

// traffic handles GET /api/stats/traffic: hourly message counts for the
// trailing 24 hours.
func (h *Handler) traffic(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	now := time.Now().UTC()
	times, err := h.readingTimes(caller, now, telemetry.TrafficBuckets*telemetry.TrafficSpan)
	if err != nil {
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"labels": telemetry.Labels(now, telemetry.TrafficBuckets, telemetry.TrafficSpan, telemetry.TrafficLayout),
		"counts": telemetry.Bucketize(times, now, telemetry.TrafficBuckets, telemetry.TrafficSpan),
	})
}

// onlineHistory handles GET /api/stats/online-history: per-day counts of
// devices considered online, over the trailing 7 days. A device counts on
// every day from its last update through today, not just the day it
// reported.
func (h *Handler) onlineHistory(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	devices, err := h.visibleDevices(caller)
	if err != nil {
		h.internalError(w, err)
		return
	}

	now := time.Now().UTC()
	starts := make([]time.Time, 0, len(devices))
	for _, d := range devices {
		if d.LastUpdate != nil {
			starts = append(starts, *d.LastUpdate)
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"labels": telemetry.Labels(now, telemetry.HistoryBuckets, telemetry.HistorySpan, telemetry.HistoryLayout),
		"counts": telemetry.BucketizeTrailing(starts, now, telemetry.HistoryBuckets, telemetry.HistorySpan),
	})
}

// systemHealth handles GET /api/stats/health
func (h *Handler) systemHealth(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	devices, err := h.visibleDevices(caller)
	if err != nil {
		h.internalError(w, err)
		return
	}

	now := time.Now().UTC()
	online := 0
	for i := range devices {
		if telemetry.IsOnline(&devices[i], now) {
			online++
		}
	}

	times, err := h.readingTimes(caller, now, time.Minute)
	if err != nil {
		h.internalError(w, err)
		return
	}

	unread := 0
	if alertStore, ok := h.storage.(storage.AlertStorage); ok {
		filter := &model.AlertFilter{UnreadOnly: true}
		if !caller.Admin {
			filter.OwnerID = caller.Subject
		}
		alerts, err := alertStore.ListAlerts(filter)
		if err != nil {
			h.internalError(w, err)
			return
		}
		unread = len(alerts)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices_total":       len(devices),
		"devices_online":      online,
		"devices_offline":     len(devices) - online,
		"messages_per_second": telemetry.MessageRate(times, now),
		"unread_alerts":       unread,
	})
}

// recentReadings handles GET /api/readings/recent
func (h *Handler) recentReadings(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	readingStore, ok := h.storage.(storage.ReadingStorage)
	if !ok {
		h.writeError(w, http.StatusNotImplemented, "readings are not supported by this storage backend")
		return
	}

	devices, err := h.visibleDevices(caller)
	if err != nil {
		h.internalError(w, err)
		return
	}
	if len(devices) == 0 {
		h.writeJSON(w, http.StatusOK, []model.SensorReading{})
		return
	}

	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}

	readings, err := readingStore.LatestReadings(&model.ReadingQuery{
		DeviceIDs: ids,
		Limit:     queryLimit(r, 20),
	})
	if err != nil {
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, readings)
}
