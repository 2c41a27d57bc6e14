package service

import (
	"context"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"water_monitor/internal/classify"
	"water_monitor/internal/logger"
	"water_monitor/internal/models"
	"water_monitor/internal/remote"
)

// ----------- Simulation constants -----------
const (
	PHBaseline        = 7.2
	TDSBaseline       = 320.0 // ppm
	TurbidityBaseline = 12.0  // NTU

	PHJitter        = 0.04
	TDSJitter       = 5.0
	TurbidityJitter = 0.6
	Reversion       = 0.1 // share of the distance to baseline recovered per tick

	FlowPerPumpLPM = 7.5 // litres per minute per running pump

	DefaultRetention = 500
)

// SimulatorService plays the remote device against the store: it appends
// telemetry samples and turns schedule commands into schedule status.
type SimulatorService struct {
	store     remote.Store
	paths     Paths
	retention int
	log       *logger.Logger
	rng       *rand.Rand

	mu      sync.Mutex
	control remote.Snapshot
	primed  bool // a control snapshot was received
	reg     remote.Registration
	failed  bool
	wake    chan struct{}

	sample  models.TelemetrySnapshot
	lastAt  time.Time
	lastKey int64
	keys    []string
}

// NewSimulatorService returns a simulator. retention bounds the number of
// samples it keeps in the store (0 means DefaultRetention).
func NewSimulatorService(store remote.Store, paths Paths, retention int, seed uint64, log *logger.Logger) *SimulatorService {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if paths.SensorData == "" || paths.Control == "" {
		paths = DefaultPaths()
	}
	return &SimulatorService{
		store:     store,
		paths:     paths,
		retention: retention,
		log:       log,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		wake:      make(chan struct{}, 1),
		sample: models.TelemetrySnapshot{
			PH:        PHBaseline,
			TDS:       TDSBaseline,
			Turbidity: TurbidityBaseline,
		},
	}
}

// Run ticks at the given interval until ctx is canceled.
func (s *SimulatorService) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	defer s.unlisten()
	for {
		s.ensureListening()
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			s.applyCommand(ctx)
		case now := <-t.C:
			s.applyCommand(ctx)
			if err := s.step(ctx, now); err != nil && s.log != nil {
				s.log.Warnw("simulator_write_failed", "err", err)
			}
		}
	}
}

func (s *SimulatorService) ensureListening() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg != nil && !s.failed {
		return
	}
	if s.reg != nil {
		s.reg.Remove()
		s.reg = nil
	}
	reg, err := s.store.Listen(s.paths.Control, remote.Query{}, s.onControl)
	if err != nil {
		if s.log != nil {
			s.log.Warnw("simulator_listen_failed", "err", err)
		}
		return
	}
	s.reg, s.failed = reg, false
}

func (s *SimulatorService) unlisten() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg != nil {
		s.reg.Remove()
		s.reg = nil
	}
}

func (s *SimulatorService) onControl(ev remote.Event) {
	s.mu.Lock()
	if ev.Err != nil {
		s.failed = true
	} else {
		s.control, s.primed = ev.Snapshot, true
	}
	s.mu.Unlock()
	if ev.Err != nil {
		if s.log != nil {
			s.log.Warnw("simulator_control_listener_failed", "err", ev.Err)
		}
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *SimulatorService) controlSnapshot() (remote.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.control, s.primed
}

// applyCommand moves the schedule status according to the last command.
func (s *SimulatorService) applyCommand(ctx context.Context) {
	snap, primed := s.controlSnapshot()
	if !primed {
		return
	}
	cmd, _ := snap.Child("command").Str()
	current := ParseSchedule(snap.Child("status"))
	next := NextScheduleStatus(current, cmd)
	if next == current && snap.Child("status").Exists() {
		return
	}
	if err := s.store.Set(ctx, s.paths.Status(), string(next)); err != nil {
		if s.log != nil {
			s.log.Warnw("simulator_status_write_failed", "err", err)
		}
		return
	}
	if s.log != nil && next != current {
		s.log.Infow("simulator_schedule_changed", "from", current, "to", next, "command", cmd)
	}
}

// NextScheduleStatus is the device's schedule state machine. Commands that do
// not apply to the current status leave it unchanged.
func NextScheduleStatus(current models.ScheduleStatus, command string) models.ScheduleStatus {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case CommandStart:
		return models.ScheduleRunning
	case CommandStop:
		return models.ScheduleStopped
	case CommandPause:
		if current == models.ScheduleRunning {
			return models.SchedulePaused
		}
	case CommandResume:
		if current == models.SchedulePaused {
			return models.ScheduleRunning
		}
	}
	return current
}

// step appends one telemetry sample and prunes samples beyond retention.
func (s *SimulatorService) step(ctx context.Context, now time.Time) error {
	snap, _ := s.controlSnapshot()
	pumps := 0
	for _, p := range []string{"pump1", "pump2"} {
		if switchOn(snap.Child(p)) {
			pumps++
		}
	}
	if !switchOn(snap.Child("system")) {
		pumps = 0
	}

	elapsed := 0.0
	if !s.lastAt.IsZero() {
		elapsed = now.Sub(s.lastAt).Seconds()
	}
	s.lastAt = now

	s.sample.PH = round(s.walk(classify.PH, s.sample.PH, PHBaseline, PHJitter), 2)
	s.sample.TDS = round(s.walk(classify.TDS, s.sample.TDS, TDSBaseline, TDSJitter), 0)
	s.sample.Turbidity = round(s.walk(classify.Turbidity, s.sample.Turbidity, TurbidityBaseline, TurbidityJitter), 2)
	s.sample.Flow = FlowPerPumpLPM * float64(pumps)
	s.sample.Volume = round(s.sample.Volume+s.sample.Flow*elapsed/60, 3)
	s.sample.Timestamp = now.UTC().Format(timestampLayout)

	key := now.Unix()
	if key <= s.lastKey {
		key = s.lastKey + 1
	}
	s.lastKey = key
	k := strconv.FormatInt(key, 10)

	if err := s.store.Set(ctx, remote.Join(s.paths.SensorData, k), map[string]any{
		"flow":      s.sample.Flow,
		"ph":        s.sample.PH,
		"tds":       s.sample.TDS,
		"turbidity": s.sample.Turbidity,
		"volume":    s.sample.Volume,
		"timestamp": s.sample.Timestamp,
	}); err != nil {
		return err
	}
	s.keys = append(s.keys, k)

	for len(s.keys) > s.retention {
		if err := s.store.Set(ctx, remote.Join(s.paths.SensorData, s.keys[0]), nil); err != nil {
			return err
		}
		s.keys = s.keys[1:]
	}
	return nil
}

// walk is a mean-reverting random step clamped to the sensor's scale.
func (s *SimulatorService) walk(sn classify.Sensor, v, baseline, jitter float64) float64 {
	v += (baseline-v)*Reversion + s.rng.NormFloat64()*jitter
	if g, ok := classify.Lookup(string(sn)); ok {
		v = math.Max(g.Scale.Min, math.Min(g.Scale.Max, v))
	}
	return v
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
