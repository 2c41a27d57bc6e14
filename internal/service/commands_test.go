package service

import (
	"errors"
	"reflect"
	"testing"

	"water_monitor/internal/cache"
	"water_monitor/internal/models"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "start", want: "start"},
		{in: " PAUSE ", want: "pause"},
		{in: "Resume", want: "resume"},
		{in: "stop", want: "stop"},
		{in: "reboot", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("ParseCommand(%q) err=%v, want ErrInvalidCommand", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseCommand(%q)=(%q,%v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestCommandService_WritesControlNodes(t *testing.T) {
	store := newMemStore(t)
	journal := &fakeEventRepo{}
	svc := NewCommandService(store, journal, DefaultPaths(), nil)
	ctx := testCtx(t)

	if err := svc.SetPumpState(ctx, 1, true); err != nil {
		t.Fatalf("SetPumpState: %v", err)
	}
	if err := svc.SetSystemState(ctx, true); err != nil {
		t.Fatalf("SetSystemState: %v", err)
	}
	if err := svc.SetServomotorState(ctx, false); err != nil {
		t.Fatalf("SetServomotorState: %v", err)
	}
	if err := svc.SetControlCommand(ctx, "Start"); err != nil {
		t.Fatalf("SetControlCommand: %v", err)
	}

	want := map[string]any{
		"pump2":   float64(1),
		"system":  float64(1),
		"servo":   float64(0),
		"command": "start",
	}
	if got := store.Get("control"); !reflect.DeepEqual(got, want) {
		t.Fatalf("control node=%#v, want %#v", got, want)
	}

	events := journal.appendedEvents()
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
		if e.EventID == "" || e.OccurredAt.IsZero() {
			t.Errorf("journal entry without id or time: %+v", e)
		}
	}
	wantTypes := []string{EventPump, EventSystem, EventServo, EventSchedule}
	if !reflect.DeepEqual(types, wantTypes) {
		t.Fatalf("journal types=%v, want %v", types, wantTypes)
	}
}

func TestCommandService_SetAllPumpsIsOneUpdate(t *testing.T) {
	store := newMemStore(t)
	if err := store.Set(testCtx(t), "control/status", "running"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := NewCommandService(store, nil, DefaultPaths(), nil)

	if err := svc.SetAllPumps(testCtx(t), true); err != nil {
		t.Fatalf("SetAllPumps: %v", err)
	}
	want := map[string]any{"pump1": float64(1), "pump2": float64(1), "status": "running"}
	if got := store.Get("control"); !reflect.DeepEqual(got, want) {
		t.Fatalf("control node=%#v, want %#v", got, want)
	}
}

func TestCommandService_RejectsInvalidInputWithoutWriting(t *testing.T) {
	store := newMemStore(t)
	journal := &fakeEventRepo{}
	svc := NewCommandService(store, journal, DefaultPaths(), nil)

	for _, idx := range []int{-1, 2, 7} {
		if err := svc.SetPumpState(testCtx(t), idx, true); !errors.Is(err, ErrInvalidPump) {
			t.Errorf("SetPumpState(%d) err=%v", idx, err)
		}
	}
	if err := svc.SetControlCommand(testCtx(t), "explode"); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("SetControlCommand err=%v", err)
	}
	if got := store.Get("control"); got != nil {
		t.Fatalf("invalid commands wrote %#v", got)
	}
	if n := len(journal.appendedEvents()); n != 0 {
		t.Fatalf("journal has %d entries", n)
	}
}

func TestCommandService_FailedWriteLeavesCacheUntouched(t *testing.T) {
	store := newMemStore(t)
	st := cache.New()
	journal := &fakeEventRepo{}
	svc := NewCommandService(store, journal, DefaultPaths(), nil)

	offline := errors.New("network unreachable")
	store.SetWriteError(offline)

	err := svc.SetSystemState(testCtx(t), true)
	if !errors.Is(err, offline) {
		t.Fatalf("want wrapped %v, got %v", offline, err)
	}
	if got := st.Control(); got != (models.ControlState{ScheduleStatus: models.ScheduleUnknown}) {
		t.Fatalf("cache changed: %+v", got)
	}
	if n := len(journal.appendedEvents()); n != 0 {
		t.Fatalf("failed write was journaled")
	}
}

func TestCommandService_JournalFailureDoesNotFailCommand(t *testing.T) {
	store := newMemStore(t)
	journal := &fakeEventRepo{appendErr: errors.New("db locked")}
	svc := NewCommandService(store, journal, DefaultPaths(), nil)

	if err := svc.SetPumpState(testCtx(t), 0, true); err != nil {
		t.Fatalf("SetPumpState: %v", err)
	}
	if got := store.Get("control/pump1"); got != float64(1) {
		t.Fatalf("pump1=%v", got)
	}
}

func TestPaths(t *testing.T) {
	p := Paths{SensorData: "plant/sensor_data", Control: "/plant/control/"}
	tests := map[string]string{
		p.Pump(0):   "plant/control/pump1",
		p.Pump(1):   "plant/control/pump2",
		p.System():  "plant/control/system",
		p.Servo():   "plant/control/servo",
		p.Status():  "plant/control/status",
		p.Command(): "plant/control/command",
	}
	for got, want := range tests {
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}
