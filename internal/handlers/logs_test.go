package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"water_monitor/internal/models"
	"water_monitor/internal/service"
)

func TestParseQueryTime(t *testing.T) {
	cases := []struct {
		in       string
		endOfDay bool
		want     time.Time
		wantErr  bool
	}{
		{in: "2025-08-01T10:00:00+02:00", want: time.Date(2025, 8, 1, 8, 0, 0, 0, time.UTC)},
		{in: "2025-08-01 10:00:00", want: time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)},
		{in: "2025-08-01", want: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)},
		{in: "2025-08-01", endOfDay: true, want: time.Date(2025, 8, 1, 23, 59, 59, 999999999, time.UTC)},
		{in: "2025-08-01 10:00:00", endOfDay: true, want: time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)},
		{in: "yesterday", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseQueryTime(tc.in, tc.endOfDay)
		if (err != nil) != tc.wantErr {
			t.Fatalf("parseQueryTime(%q) err=%v", tc.in, err)
		}
		if !tc.wantErr && !got.Equal(tc.want) {
			t.Errorf("parseQueryTime(%q, %v)=%v, want %v", tc.in, tc.endOfDay, got, tc.want)
		}
	}
}

func TestLogsHandler_ListAndValidation(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	events := []models.CommandEvent{
		{EventID: "e1", OccurredAt: now, Type: "PUMP", Description: "Pump 1 switched on"},
		{EventID: "e2", OccurredAt: now.Add(1 * time.Second), Type: "SCHEDULE", Description: "Schedule command pause"},
	}
	logs := &mockEventLog{resp: events}
	s := &service.Service{Authorization: &mockAuth{parseID: 99}, EventLog: logs}

	if w := doGet(t, s, "/api/v1/logs/?from=notatime"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid 'from', got %d", w.Code)
	}
	if w := doGet(t, s, "/api/v1/logs/?to=31/08/2025"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid 'to', got %d", w.Code)
	}

	w := doGet(t, s, "/api/v1/logs/?from=2025-08-01&to=2025-08-31&type=schedule")
	if w.Code != http.StatusOK {
		t.Fatalf("logs status=%d, body=%s", w.Code, w.Body.String())
	}
	var out struct {
		Count  int                   `json:"count"`
		Events []models.CommandEvent `json:"events"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Count != 2 || len(out.Events) != 2 {
		t.Fatalf("unexpected response: %+v", out)
	}
	// normalization of the type is the service's job
	if logs.lastType != "schedule" {
		t.Fatalf("type passed as %q", logs.lastType)
	}
	if want := time.Date(2025, 8, 31, 23, 59, 59, 999999999, time.UTC); !logs.lastTo.Equal(want) {
		t.Fatalf("to=%v, want end of day %v", logs.lastTo, want)
	}
}

func TestLogsHandler_ServiceErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"range", service.ErrInvalidTimeRange, http.StatusBadRequest},
		{"type", fmt.Errorf("%w: %q", service.ErrUnknownEventType, "MODE"), http.StatusBadRequest},
		{"db", errors.New("database is locked"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &service.Service{Authorization: &mockAuth{parseID: 1}, EventLog: &mockEventLog{err: tc.err}}
			if w := doGet(t, s, "/api/v1/logs/"); w.Code != tc.want {
				t.Fatalf("status=%d, want %d", w.Code, tc.want)
			}
		})
	}
}
