package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"water_monitor/internal/cache"
	"water_monitor/internal/classify"
	"water_monitor/internal/models"
	"water_monitor/internal/remote"
	"water_monitor/internal/remote/memstore"
)

func newMemStore(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	t.Cleanup(s.Close)
	return s
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

func sample(ph, tds, turb float64, ts string) map[string]any {
	return map[string]any{"ph": ph, "tds": tds, "turbidity": turb, "flow": 1.5, "volume": 20, "timestamp": ts}
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBuildReadingsAndStatuses(t *testing.T) {
	entry := models.TelemetrySnapshot{Key: "100", PH: 7.9, TDS: 520, Turbidity: 10}

	wantReadings := []models.SensorReading{
		{Label: "TDS", Value: "520", Unit: "ppm", Icon: "sensors"},
		{Label: "pH", Value: "7.90", Unit: "", Icon: "sensors"},
		{Label: "Turbidity", Value: "10.00", Unit: "NTU", Icon: "sensors"},
	}
	if got := BuildReadings(entry); !reflect.DeepEqual(got, wantReadings) {
		t.Errorf("readings:\n got %+v\nwant %+v", got, wantReadings)
	}

	wantStatuses := []models.SensorStatus{
		{Name: "pH", Value: 7.9, Unit: "", IsWorking: true, State: classify.Normal},
		{Name: "Turbidity", Value: 10, Unit: "NTU", IsWorking: true, State: classify.Normal},
		{Name: "TDS", Value: 520, Unit: "ppm", IsWorking: true, State: classify.High},
	}
	if got := BuildStatuses(entry); !reflect.DeepEqual(got, wantStatuses) {
		t.Errorf("statuses:\n got %+v\nwant %+v", got, wantStatuses)
	}
}

func TestBuildReadings_FractionalTDS(t *testing.T) {
	got := BuildReadings(models.TelemetrySnapshot{TDS: 320.5})
	if got[0].Value != "320.5" {
		t.Fatalf("TDS value=%q, want 320.5", got[0].Value)
	}
}

func TestSelectLatest(t *testing.T) {
	tests := []struct {
		name    string
		keys    []string
		wantKey string
		wantOK  bool
	}{
		{name: "empty", keys: nil, wantOK: false},
		{name: "numeric max", keys: []string{"5", "100", "20"}, wantKey: "100", wantOK: true},
		{name: "non numeric counts as zero", keys: []string{"abc", "-3"}, wantKey: "abc", wantOK: true},
		{name: "tie keeps first", keys: []string{"x", "y"}, wantKey: "x", wantOK: true},
		{name: "fractional", keys: []string{"1.5", "1.25"}, wantKey: "1.5", wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entries []models.TelemetrySnapshot
			for _, k := range tt.keys {
				entries = append(entries, models.TelemetrySnapshot{Key: k})
			}
			got, ok := SelectLatest(entries)
			if ok != tt.wantOK || got.Key != tt.wantKey {
				t.Fatalf("got (%q,%v), want (%q,%v)", got.Key, ok, tt.wantKey, tt.wantOK)
			}
		})
	}
}

func TestParseTelemetry_SkipsMalformedChildren(t *testing.T) {
	snap := remote.Snapshot{Path: "sensor_data", Value: map[string]any{
		"1": map[string]any{"ph": 7.0, "timestamp": "2024-01-01 10:00:00"},
		"2": "not an object",
		"3": map[string]any{"ph": "seven"},
		"4": map[string]any{"tds": 100.0},
	}}
	got := ParseTelemetry(snap)
	want := []models.TelemetrySnapshot{
		{Key: "1", PH: 7, Timestamp: "2024-01-01 10:00:00"},
		{Key: "4", TDS: 100},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFormatClock(t *testing.T) {
	tests := map[string]string{
		"2024-03-05 14:07:59": "14:07",
		"2024-03-05T14:07:59": "2024-03-05T14:07:59",
		"":                    "",
		"garbage":             "garbage",
	}
	for in, want := range tests {
		if got := FormatClock(in); got != want {
			t.Errorf("FormatClock(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestBuildHistory_SortsAndKeepsWindow(t *testing.T) {
	var entries []models.TelemetrySnapshot
	for i := 59; i >= 0; i-- {
		entries = append(entries, models.TelemetrySnapshot{
			Key:       fmt.Sprint(i),
			PH:        float64(i),
			Timestamp: fmt.Sprintf("2024-01-01 10:%02d:00", i),
		})
	}
	got := BuildHistory(SortByTimestamp(entries), classify.PH, 10)
	if len(got) != 10 {
		t.Fatalf("len=%d, want 10", len(got))
	}
	if got[0].Value != 50 || got[9].Value != 59 || got[9].Time != "10:59" {
		t.Fatalf("unexpected window %+v", got)
	}
}

func TestTelemetryService_HistoryFallbackFromCache(t *testing.T) {
	st := cache.New()
	svc := NewTelemetryService(newMemStore(t), st, Options{}, nil)

	got, err := svc.History("ph")
	if err != nil || len(got) != 0 {
		t.Fatalf("History before data = %v, %v; want empty", got, err)
	}

	var entries []models.TelemetrySnapshot
	for i := 1; i <= 8; i++ {
		entries = append(entries, models.TelemetrySnapshot{Key: fmt.Sprint(i), TDS: float64(i * 10), Timestamp: "bad"})
	}
	st.StoreTelemetry(&cache.Telemetry{Entries: entries})

	got, err = svc.History("TDS")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 5 || got[0].Value != 40 || got[4].Value != 80 || got[4].Time != "bad" {
		t.Fatalf("fallback history %+v", got)
	}

	if _, err := svc.History("chlorine"); !errors.Is(err, ErrUnknownSensor) {
		t.Fatalf("want ErrUnknownSensor, got %v", err)
	}
}

func TestTelemetryService_SynchronousReadsDefaultOffline(t *testing.T) {
	svc := NewTelemetryService(newMemStore(t), cache.New(), Options{}, nil)

	if r := svc.Readings(); len(r) != 0 {
		t.Fatalf("Readings=%v, want empty", r)
	}
	statuses := svc.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("want 3 offline statuses, got %d", len(statuses))
	}
	for _, s := range statuses {
		if s.State != classify.Offline || s.IsWorking {
			t.Fatalf("status %+v is not offline", s)
		}
	}
	if parts := svc.SystemParts(); len(parts) != 2 || parts[0].Icon != "sync" || parts[1].Icon != "sensors" {
		t.Fatalf("SystemParts=%+v", parts)
	}
}

func TestTelemetryService_FanOutAndCache(t *testing.T) {
	store := newMemStore(t)
	st := cache.New()
	svc := NewTelemetryService(store, st, Options{}, nil)

	readings, err := svc.SubscribeReadings()
	if err != nil {
		t.Fatalf("SubscribeReadings: %v", err)
	}
	defer readings.Close()
	statuses, err := svc.SubscribeStatuses()
	if err != nil {
		t.Fatalf("SubscribeStatuses: %v", err)
	}
	defer statuses.Close()

	if n := store.Listeners("sensor_data"); n != 1 {
		t.Fatalf("store listeners=%d, want one shared listener", n)
	}

	// initial empty snapshot
	first, err := readings.Next(testCtx(t))
	if err != nil || len(first) != 0 {
		t.Fatalf("first readings=%v err=%v, want empty", first, err)
	}
	if _, err := statuses.Next(testCtx(t)); err != nil {
		t.Fatalf("first statuses: %v", err)
	}

	if err := store.Set(testCtx(t), "sensor_data/100", sample(7.9, 520, 10, "2024-01-01 10:00:00")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := readings.Next(testCtx(t))
	if err != nil {
		t.Fatalf("readings: %v", err)
	}
	if got[0].Value != "520" || got[1].Value != "7.90" {
		t.Fatalf("readings=%+v", got)
	}
	ss, err := statuses.Next(testCtx(t))
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	if ss[2].State != classify.High {
		t.Fatalf("TDS state=%q, want High", ss[2].State)
	}

	if c := st.Telemetry(); c == nil || c.Latest == nil || c.Latest.Key != "100" {
		t.Fatalf("cache not refreshed: %+v", c)
	}
	if r := svc.Readings(); !reflect.DeepEqual(r, got) {
		t.Fatalf("cached readings %v differ from emitted %v", r, got)
	}
}

func TestTelemetryService_TeardownReleasesListener(t *testing.T) {
	store := newMemStore(t)
	svc := NewTelemetryService(store, cache.New(), Options{}, nil)

	a, _ := svc.SubscribeUpdates()
	b, _ := svc.SubscribeUpdates()
	a.Close()
	if store.Listeners("sensor_data") != 1 {
		t.Fatalf("listener released while b is attached")
	}
	b.Close()
	b.Close()
	if n := store.Listeners("sensor_data"); n != 0 {
		t.Fatalf("listeners=%d after last detach", n)
	}
	if n := store.Removals(); n != 1 {
		t.Fatalf("removals=%d, want 1", n)
	}
}

func TestTelemetryService_ListenerErrorIsTerminal(t *testing.T) {
	store := newMemStore(t)
	svc := NewTelemetryService(store, cache.New(), Options{}, nil)

	sub, err := svc.SubscribeStatuses()
	if err != nil {
		t.Fatalf("SubscribeStatuses: %v", err)
	}
	defer sub.Close()
	if _, err := sub.Next(testCtx(t)); err != nil {
		t.Fatalf("initial snapshot: %v", err)
	}

	denied := errors.New("permission denied")
	store.Fail("sensor_data", denied)

	if _, err := sub.Next(testCtx(t)); !errors.Is(err, denied) {
		t.Fatalf("want %v, got %v", denied, err)
	}
}

func TestTelemetryService_SubscribeHistory(t *testing.T) {
	store := newMemStore(t)
	for i := 0; i < 60; i++ {
		key := fmt.Sprint(1000 + i)
		ts := fmt.Sprintf("2024-01-01 09:%02d:00", i)
		if err := store.Set(testCtx(t), "sensor_data/"+key, sample(7, float64(100+i), 1, ts)); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	svc := NewTelemetryService(store, cache.New(), Options{}, nil)

	if _, err := svc.SubscribeHistory("oxygen"); !errors.Is(err, ErrUnknownSensor) {
		t.Fatalf("want ErrUnknownSensor, got %v", err)
	}

	sub, err := svc.SubscribeHistory("tds")
	if err != nil {
		t.Fatalf("SubscribeHistory: %v", err)
	}
	defer sub.Close()

	got, err := sub.Next(testCtx(t))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len=%d, want 10", len(got))
	}
	if got[0].Value != 150 || got[9].Value != 159 || got[9].Time != "09:59" {
		t.Fatalf("history=%+v", got)
	}

	again, err := svc.SubscribeHistory("TDS")
	if err != nil {
		t.Fatalf("second SubscribeHistory: %v", err)
	}
	defer again.Close()
	waitFor(t, "shared history listener", func() bool { return store.Listeners("sensor_data") == 1 })
}

func TestTelemetryService_EmptySnapshotKeepsOfflineStatuses(t *testing.T) {
	store := newMemStore(t)
	st := cache.New()
	svc := NewTelemetryService(store, st, Options{}, nil)

	sub, err := svc.SubscribeStatuses()
	if err != nil {
		t.Fatalf("SubscribeStatuses: %v", err)
	}
	defer sub.Close()
	if first, err := sub.Next(testCtx(t)); err != nil || len(first) != 0 {
		t.Fatalf("first emission = %v, %v; want empty", first, err)
	}
	if st.Telemetry() == nil {
		t.Fatalf("empty snapshot was not cached")
	}

	statuses := svc.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("statuses = %+v, want 3 offline entries", statuses)
	}
	for _, s := range statuses {
		if s.Value != 0 || s.IsWorking || s.State != classify.Offline {
			t.Fatalf("status %+v is not offline", s)
		}
	}
}

func TestTelemetryService_HistoryEmissionRefreshesCache(t *testing.T) {
	store := newMemStore(t)
	st := cache.New()
	svc := NewTelemetryService(store, st, Options{}, nil)
	for i := 0; i < 3; i++ {
		ts := fmt.Sprintf("2024-01-01 09:%02d:00", i)
		if err := store.Set(testCtx(t), fmt.Sprintf("sensor_data/%d", 10+i), sample(7, float64(200+i), 1, ts)); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	sub, err := svc.SubscribeHistory("ph")
	if err != nil {
		t.Fatalf("SubscribeHistory: %v", err)
	}
	defer sub.Close()
	if _, err := sub.Next(testCtx(t)); err != nil {
		t.Fatalf("history: %v", err)
	}

	c := st.Telemetry()
	if c == nil || c.Latest == nil || c.Latest.Key != "12" {
		t.Fatalf("cache after history emission: %+v", c)
	}
	if r := svc.Readings(); len(r) != 3 || r[0].Value != "202" {
		t.Fatalf("readings from cache = %+v", r)
	}
}

func TestTelemetryService_HistoryWindowDoesNotRegressCache(t *testing.T) {
	st := cache.New()
	svc := NewTelemetryService(newMemStore(t), st, Options{}, nil)

	newer := models.TelemetrySnapshot{Key: "500", TDS: 300}
	svc.cacheEntries([]models.TelemetrySnapshot{{Key: "400"}, newer}, false)

	// a window whose newest entry is older than the cached one
	svc.cacheEntries([]models.TelemetrySnapshot{{Key: "300", TDS: 100}}, true)
	if c := st.Telemetry(); c.Latest == nil || c.Latest.Key != "500" {
		t.Fatalf("window replaced a newer cache value: %+v", c.Latest)
	}
	// an empty window leaves it alone too
	svc.cacheEntries(nil, true)
	if c := st.Telemetry(); c.Latest == nil || c.Latest.Key != "500" {
		t.Fatalf("empty window cleared the cache: %+v", c.Latest)
	}
	// the unlimited feed always wins
	svc.cacheEntries(nil, false)
	if c := st.Telemetry(); c.Latest != nil {
		t.Fatalf("telemetry feed update was not stored: %+v", c.Latest)
	}
}
