package worker

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iotview/sensord/internal/alert"
	"github.com/iotview/sensord/internal/log"
	"github.com/iotview/sensord/internal/model"
	"github.com/iotview/sensord/internal/storage"
	"github.com/iotview/sensord/internal/telemetry"
)

const offlineSweepSchedule = "@every 1m"

// Scheduler runs background maintenance jobs on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	storage  storage.Storage
	recorder *alert.Recorder
}

// NewScheduler creates a scheduler with the offline sweep job registered.
func NewScheduler(s storage.Storage, recorder *alert.Recorder) (*Scheduler, error) {
	sched := &Scheduler{
		cron:     cron.New(),
		storage:  s,
		recorder: recorder,
	}

	if _, err := sched.cron.AddFunc(offlineSweepSchedule, sched.offlineSweep); err != nil {
		return nil, err
	}

	return sched, nil
}

// Start starts the scheduler in the background.
func (s *Scheduler) Start() {
	log.Info("Starting background scheduler", "offline_sweep", offlineSweepSchedule)
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	log.Info("Stopping background scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// offlineSweep records an offline alert for every active device that has
// gone stale. Repeated sweeps do not stack alerts: a device gets at most one
// offline alert per stale period, keyed on its last update.
func (s *Scheduler) offlineSweep() {
	devices, err := s.storage.ListDevices(&model.DeviceFilter{})
	if err != nil {
		log.Error("Offline sweep failed to list devices", "error", err)
		return
	}

	now := time.Now().UTC()
	for i := range devices {
		device := &devices[i]
		if !device.IsActive || telemetry.IsOnline(device, now) {
			continue
		}
		s.sweepDevice(device, now)
	}
}

func (s *Scheduler) sweepDevice(device *model.Device, now time.Time) {
	if settingsStore, ok := s.storage.(storage.SettingsStorage); ok {
		settings, err := settingsStore.GetSettings(device.ID)
		if err != nil && !errors.Is(err, storage.ErrSettingsNotFound) {
			log.Error("Offline sweep failed to load settings", "device_id", device.ID, "error", err)
			return
		}
		if settings == nil {
			settings = model.DefaultSettings(device.ID)
		}
		if !settings.AlertsEnabled {
			return
		}
	}

	// A device with no readings at all has nothing to go offline from.
	if device.LastUpdate == nil {
		return
	}

	if alertStore, ok := s.storage.(storage.AlertStorage); ok {
		last, err := alertStore.LatestAlert(device.ID, "offline")
		if err != nil && !errors.Is(err, storage.ErrAlertNotFound) {
			log.Error("Offline sweep failed to check alerts", "device_id", device.ID, "error", err)
			return
		}
		if last != nil && !last.CreatedAt.Before(*device.LastUpdate) {
			// Already alerted for this stale period.
			return
		}
	}

	staleness := now.Sub(*device.LastUpdate).Round(time.Second)
	message := device.Name + " has not reported for " + staleness.String()
	if _, err := s.recorder.Record(device.ID, "offline", model.SeverityWarning, message, nil, nil); err != nil {
		log.Error("Offline sweep failed to record alert", "device_id", device.ID, "error", err)
		return
	}

	log.Info("Device marked offline", "device_id", device.ID, "last_update", device.LastUpdate)
}
