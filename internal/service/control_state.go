package service

import (
	"water_monitor/internal/cache"
	"water_monitor/internal/feed"
	"water_monitor/internal/logger"
	"water_monitor/internal/models"
	"water_monitor/internal/remote"
)

// ControlStateService owns the four control listeners. Each one decodes and
// caches only its own field, so a composite state may be transiently
// inconsistent across fields.
type ControlStateService struct {
	cache *cache.State

	pumps    *feed.Feed[[2]bool]
	system   *feed.Feed[bool]
	servo    *feed.Feed[bool]
	schedule *feed.Feed[models.ScheduleStatus]
}

func NewControlStateService(store remote.Store, st *cache.State, opts Options, log *logger.Logger) *ControlStateService {
	opts = opts.withDefaults()
	s := &ControlStateService{cache: st}
	p := opts.Paths

	s.pumps = newFeed("control_pumps", listenSource(store, p.Control, remote.Query{}, func(snap remote.Snapshot) [2]bool {
		pumps := [2]bool{switchOn(snap.Child("pump1")), switchOn(snap.Child("pump2"))}
		st.UpdateControl(func(c models.ControlState) models.ControlState { c.Pumps = pumps; return c })
		return pumps
	}), opts.FeedBuffer, log)

	s.system = newFeed("control_system", listenSource(store, p.System(), remote.Query{}, func(snap remote.Snapshot) bool {
		on := switchOn(snap)
		st.UpdateControl(func(c models.ControlState) models.ControlState { c.System = on; return c })
		return on
	}), opts.FeedBuffer, log)

	s.servo = newFeed("control_servo", listenSource(store, p.Servo(), remote.Query{}, func(snap remote.Snapshot) bool {
		on := switchOn(snap)
		st.UpdateControl(func(c models.ControlState) models.ControlState { c.Servo = on; return c })
		return on
	}), opts.FeedBuffer, log)

	s.schedule = newFeed("control_schedule", listenSource(store, p.Control, remote.Query{}, func(snap remote.Snapshot) models.ScheduleStatus {
		status := ParseSchedule(snap.Child("status"))
		st.UpdateControl(func(c models.ControlState) models.ControlState { c.ScheduleStatus = status; return c })
		return status
	}), opts.FeedBuffer, log)

	return s
}

func (s *ControlStateService) SubscribePumps() (*feed.Subscription[[2]bool], error) {
	return s.pumps.Subscribe()
}

func (s *ControlStateService) SubscribeSystem() (*feed.Subscription[bool], error) {
	return s.system.Subscribe()
}

func (s *ControlStateService) SubscribeServo() (*feed.Subscription[bool], error) {
	return s.servo.Subscribe()
}

func (s *ControlStateService) SubscribeSchedule() (*feed.Subscription[models.ScheduleStatus], error) {
	return s.schedule.Subscribe()
}

// State is the synchronous read of the last known control state.
func (s *ControlStateService) State() models.ControlState {
	return s.cache.Control()
}

// switchOn: the integer 1 is on, anything else (or nothing) is off.
func switchOn(snap remote.Snapshot) bool {
	n, ok := snap.Int()
	return ok && n == 1
}

// ParseSchedule maps the status node to a schedule status. Absent or
// unrecognized values read as stopped.
func ParseSchedule(snap remote.Snapshot) models.ScheduleStatus {
	v, _ := snap.Str()
	switch models.ScheduleStatus(v) {
	case models.ScheduleRunning, models.SchedulePaused, models.ScheduleStopped:
		return models.ScheduleStatus(v)
	default:
		return models.ScheduleStopped
	}
}
