// Package cache holds the last known telemetry and control state.
//
// Values are immutable once stored and replaced with atomic pointer swaps, so
// concurrent readers see either the previous or the next complete value.
package cache

import (
	"sync/atomic"
	"time"

	"water_monitor/internal/models"
)

// Telemetry is everything derived from one telemetry snapshot.
type Telemetry struct {
	Entries    []models.TelemetrySnapshot // store key order
	Latest     *models.TelemetrySnapshot  // nil when no valid entry
	Readings   []models.SensorReading
	Statuses   []models.SensorStatus
	ReceivedAt time.Time
}

type State struct {
	telemetry atomic.Pointer[Telemetry]
	control   atomic.Pointer[models.ControlState]
}

func New() *State {
	return &State{}
}

// StoreTelemetry replaces the cached telemetry. t must not be modified
// afterwards.
func (s *State) StoreTelemetry(t *Telemetry) {
	s.telemetry.Store(t)
}

// Telemetry returns the cached value, or nil if nothing was received yet.
// The result is shared and must be treated as read-only.
func (s *State) Telemetry() *Telemetry {
	return s.telemetry.Load()
}

// Readings returns the cached readings, or the offline default while no
// snapshot with a valid entry has been received.
func (s *State) Readings() []models.SensorReading {
	t := s.telemetry.Load()
	if t == nil || t.Latest == nil {
		return OfflineReadings()
	}
	return append([]models.SensorReading{}, t.Readings...)
}

// Statuses returns the cached statuses, or the offline default while no
// snapshot with a valid entry has been received.
func (s *State) Statuses() []models.SensorStatus {
	t := s.telemetry.Load()
	if t == nil || t.Latest == nil {
		return OfflineStatuses()
	}
	return append([]models.SensorStatus{}, t.Statuses...)
}

// Control returns the cached control state or the offline default.
func (s *State) Control() models.ControlState {
	c := s.control.Load()
	if c == nil {
		return OfflineControl()
	}
	return *c
}

// UpdateControl applies fn to the current control state and stores the
// result. Concurrent updates of different fields do not lose each other.
func (s *State) UpdateControl(fn func(models.ControlState) models.ControlState) models.ControlState {
	for {
		old := s.control.Load()
		cur := OfflineControl()
		if old != nil {
			cur = *old
		}
		next := fn(cur)
		if s.control.CompareAndSwap(old, &next) {
			return next
		}
	}
}
