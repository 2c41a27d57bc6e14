package service

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"water_monitor/internal/cache"
	"water_monitor/internal/classify"
	"water_monitor/internal/feed"
	"water_monitor/internal/logger"
	"water_monitor/internal/metrics"
	"water_monitor/internal/models"
	"water_monitor/internal/remote"
)

// ErrUnknownSensor is returned for sensor names other than ph, tds, turbidity.
var ErrUnknownSensor = errors.New("unknown sensor")

const (
	timestampLayout = "2006-01-02 15:04:05"
	clockLayout     = "15:04"

	iconSensors = "sensors"
	iconSync    = "sync"
)

var systemParts = []models.SystemPart{
	{Name: "Pumps", Icon: iconSync},
	{Name: "Sensors", Icon: iconSensors},
}

// TelemetryService owns the telemetry listeners and the telemetry half of the
// cache.
type TelemetryService struct {
	store remote.Store
	cache *cache.State
	opts  Options
	log   *logger.Logger

	updates *feed.Feed[models.TelemetryUpdate]

	mu      sync.Mutex
	history map[classify.Sensor]*feed.Feed[[]models.TimedSensorReading]
}

func NewTelemetryService(store remote.Store, st *cache.State, opts Options, log *logger.Logger) *TelemetryService {
	s := &TelemetryService{
		store:   store,
		cache:   st,
		opts:    opts.withDefaults(),
		log:     log,
		history: make(map[classify.Sensor]*feed.Feed[[]models.TimedSensorReading]),
	}
	s.updates = newFeed("telemetry",
		listenSource(store, s.opts.Paths.SensorData, remote.Query{}, s.decodeUpdate),
		s.opts.FeedBuffer, log)
	return s
}

// decodeUpdate runs once per snapshot regardless of the number of consumers
// and refreshes the cache before the update is fanned out.
func (s *TelemetryService) decodeUpdate(snap remote.Snapshot) models.TelemetryUpdate {
	return s.cacheEntries(ParseTelemetry(snap), false)
}

// cacheEntries derives the update for entries and stores it in the cache.
// A history window holds only the last children, so it does not replace a
// cached value whose latest entry is newer than anything in the window.
func (s *TelemetryService) cacheEntries(entries []models.TelemetrySnapshot, window bool) models.TelemetryUpdate {
	upd := models.TelemetryUpdate{
		Readings: []models.SensorReading{},
		Statuses: []models.SensorStatus{},
	}
	latest, ok := SelectLatest(entries)
	if ok {
		upd.Latest = &latest
		upd.Readings = BuildReadings(latest)
		upd.Statuses = BuildStatuses(latest)
	}
	if window {
		if cur := s.cache.Telemetry(); cur != nil && cur.Latest != nil &&
			(!ok || keyWeight(latest.Key) < keyWeight(cur.Latest.Key)) {
			return upd
		}
	}
	s.cache.StoreTelemetry(&cache.Telemetry{
		Entries:    entries,
		Latest:     upd.Latest,
		Readings:   upd.Readings,
		Statuses:   upd.Statuses,
		ReceivedAt: time.Now().UTC(),
	})
	return upd
}

// SubscribeUpdates attaches a consumer to the raw telemetry feed.
func (s *TelemetryService) SubscribeUpdates() (*feed.Subscription[models.TelemetryUpdate], error) {
	return s.updates.Subscribe()
}

// SubscribeReadings emits the overview readings (TDS, pH, Turbidity) for
// every telemetry snapshot; an empty list when it holds no valid entry.
func (s *TelemetryService) SubscribeReadings() (*feed.Subscription[[]models.SensorReading], error) {
	sub, err := s.updates.Subscribe()
	if err != nil {
		return nil, err
	}
	return feed.Map(sub, func(u models.TelemetryUpdate) []models.SensorReading { return u.Readings }), nil
}

// SubscribeStatuses emits the classified statuses (pH, Turbidity, TDS).
func (s *TelemetryService) SubscribeStatuses() (*feed.Subscription[[]models.SensorStatus], error) {
	sub, err := s.updates.Subscribe()
	if err != nil {
		return nil, err
	}
	return feed.Map(sub, func(u models.TelemetryUpdate) []models.SensorStatus { return u.Statuses }), nil
}

// SubscribeHistory emits the trailing trend of one sensor. Each sensor has
// its own listener limited to the last HistoryLimit children.
func (s *TelemetryService) SubscribeHistory(sensor string) (*feed.Subscription[[]models.TimedSensorReading], error) {
	sn, ok := classify.ParseSensor(sensor)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSensor, sensor)
	}
	return s.historyFeed(sn).Subscribe()
}

func (s *TelemetryService) historyFeed(sn classify.Sensor) *feed.Feed[[]models.TimedSensorReading] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.history[sn]; ok {
		return f
	}
	window := s.opts.HistoryWindow
	decode := func(snap remote.Snapshot) []models.TimedSensorReading {
		entries := ParseTelemetry(snap)
		s.cacheEntries(entries, true)
		return BuildHistory(SortByTimestamp(entries), sn, window)
	}
	f := newFeed("history_"+string(sn),
		listenSource(s.store, s.opts.Paths.SensorData, remote.Query{LimitToLast: s.opts.HistoryLimit}, decode),
		s.opts.FeedBuffer, s.log)
	s.history[sn] = f
	return f
}

// Readings is the synchronous read of the last known readings.
func (s *TelemetryService) Readings() []models.SensorReading {
	return s.cache.Readings()
}

// Statuses is the synchronous read of the last known statuses; every sensor
// is Offline when nothing was ever received.
func (s *TelemetryService) Statuses() []models.SensorStatus {
	return s.cache.Statuses()
}

// History is the synchronous trend read. It uses the cached telemetry in
// store key order and keeps only the last FallbackWindow points.
func (s *TelemetryService) History(sensor string) ([]models.TimedSensorReading, error) {
	sn, ok := classify.ParseSensor(sensor)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSensor, sensor)
	}
	t := s.cache.Telemetry()
	if t == nil {
		return cache.OfflineHistory(), nil
	}
	return BuildHistory(t.Entries, sn, s.opts.FallbackWindow), nil
}

func (s *TelemetryService) SystemParts() []models.SystemPart {
	return append([]models.SystemPart{}, systemParts...)
}

// ParseTelemetry decodes the children of the sensor data node in store key
// order. Children that are not objects or carry a field of the wrong type are
// skipped; absent fields stay zero.
func ParseTelemetry(snap remote.Snapshot) []models.TelemetrySnapshot {
	children := snap.Children()
	out := make([]models.TelemetrySnapshot, 0, len(children))
	for _, c := range children {
		t, ok := parseTelemetryChild(c)
		if !ok {
			metrics.SkippedChildren.Inc()
			continue
		}
		out = append(out, t)
	}
	return out
}

func parseTelemetryChild(c remote.Snapshot) (models.TelemetrySnapshot, bool) {
	if _, ok := c.Value.(map[string]any); !ok {
		return models.TelemetrySnapshot{}, false
	}
	t := models.TelemetrySnapshot{Key: c.Key()}
	numbers := []struct {
		name string
		dst  *float64
	}{
		{"flow", &t.Flow},
		{"ph", &t.PH},
		{"tds", &t.TDS},
		{"turbidity", &t.Turbidity},
		{"volume", &t.Volume},
	}
	for _, n := range numbers {
		field := c.Child(n.name)
		if !field.Exists() {
			continue
		}
		v, ok := field.Float()
		if !ok {
			return models.TelemetrySnapshot{}, false
		}
		*n.dst = v
	}
	if ts := c.Child("timestamp"); ts.Exists() {
		v, ok := ts.Str()
		if !ok {
			return models.TelemetrySnapshot{}, false
		}
		t.Timestamp = v
	}
	return t, true
}

// keyWeight is the numeric interpretation of an ordering key. Keys that are
// not numbers count as 0.
func keyWeight(key string) float64 {
	f, err := strconv.ParseFloat(key, 64)
	if err != nil || math.IsNaN(f) {
		return 0
	}
	return f
}

// SelectLatest picks the entry with the greatest numeric key. On ties the
// first entry in the given order wins.
func SelectLatest(entries []models.TelemetrySnapshot) (models.TelemetrySnapshot, bool) {
	if len(entries) == 0 {
		return models.TelemetrySnapshot{}, false
	}
	best := 0
	bestWeight := keyWeight(entries[0].Key)
	for i := 1; i < len(entries); i++ {
		if w := keyWeight(entries[i].Key); w > bestWeight {
			best, bestWeight = i, w
		}
	}
	return entries[best], true
}

// BuildReadings formats the overview readings in display order TDS, pH,
// Turbidity.
func BuildReadings(t models.TelemetrySnapshot) []models.SensorReading {
	return []models.SensorReading{
		{Label: "TDS", Value: strconv.FormatFloat(t.TDS, 'f', -1, 32), Unit: classify.Unit(classify.TDS), Icon: iconSensors},
		{Label: "pH", Value: fmt.Sprintf("%.2f", t.PH), Icon: iconSensors},
		{Label: "Turbidity", Value: fmt.Sprintf("%.2f", t.Turbidity), Unit: classify.Unit(classify.Turbidity), Icon: iconSensors},
	}
}

// BuildStatuses classifies the entry in order pH, Turbidity, TDS.
func BuildStatuses(t models.TelemetrySnapshot) []models.SensorStatus {
	status := func(name string, s classify.Sensor, v float64) models.SensorStatus {
		return models.SensorStatus{
			Name:      name,
			Value:     v,
			Unit:      classify.Unit(s),
			IsWorking: true,
			State:     classify.State(s, v),
		}
	}
	return []models.SensorStatus{
		status("pH", classify.PH, t.PH),
		status("Turbidity", classify.Turbidity, t.Turbidity),
		status("TDS", classify.TDS, t.TDS),
	}
}

// SortByTimestamp returns a copy ordered by timestamp ascending. Entries with
// equal timestamps keep their relative order.
func SortByTimestamp(entries []models.TelemetrySnapshot) []models.TelemetrySnapshot {
	out := append([]models.TelemetrySnapshot(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// BuildHistory projects one sensor out of entries and keeps the last window
// points.
func BuildHistory(entries []models.TelemetrySnapshot, sn classify.Sensor, window int) []models.TimedSensorReading {
	if window > 0 && len(entries) > window {
		entries = entries[len(entries)-window:]
	}
	out := make([]models.TimedSensorReading, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.TimedSensorReading{Value: sensorValue(e, sn), Time: FormatClock(e.Timestamp)})
	}
	return out
}

func sensorValue(t models.TelemetrySnapshot, sn classify.Sensor) float64 {
	switch sn {
	case classify.PH:
		return t.PH
	case classify.TDS:
		return t.TDS
	case classify.Turbidity:
		return t.Turbidity
	default:
		return 0
	}
}

// FormatClock renders "2006-01-02 15:04:05" as "15:04". Anything else is
// returned unchanged.
func FormatClock(ts string) string {
	t, err := time.Parse(timestampLayout, ts)
	if err != nil {
		return ts
	}
	return t.Format(clockLayout)
}
